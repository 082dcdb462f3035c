package main

// Git backends register themselves with the gitbackend registry on import.
import (
	_ "github.com/Strob0t/repodeck/internal/adapter/gitapi"
	_ "github.com/Strob0t/repodeck/internal/adapter/gitlocal"
)
