package gitapi

// Wire types of the git backend HTTP contract. The server side in
// internal/adapter/http encodes the same shapes.

// Route paths, relative to the backend base URL.
const (
	PathDiff     = "/api/git/diff"
	PathStatus   = "/api/git/status"
	PathBranches = "/api/git/branches"
	PathCheckout = "/api/git/checkout"
	PathPull     = "/api/git/pull"
	PathPush     = "/api/git/push"
	PathRollback = "/api/git/rollback"
	PathLog      = "/api/git/log"
)

type DiffResponse struct {
	Diff string `json:"diff"`
}

type StatusResponse struct {
	Status struct {
		Ahead  int `json:"ahead"`
		Behind int `json:"behind"`
	} `json:"status"`
}

type BranchesResponse struct {
	Current string   `json:"current"`
	All     []string `json:"all"`
}

// PathRequest is the body of pull and rollback.
type PathRequest struct {
	Path string `json:"path"`
}

type CheckoutRequest struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

type CreateBranchRequest struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Source string `json:"source,omitempty"`
}

type PushRequest struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// OKResponse acknowledges checkout, branch creation and rollback.
type OKResponse struct {
	OK bool `json:"ok"`
}

type BehindCount struct {
	Behind int `json:"behind"`
}

type PullResponse struct {
	Status struct {
		Before   BehindCount `json:"before"`
		After    BehindCount `json:"after"`
		UpToDate bool        `json:"upToDate"`
	} `json:"status"`
}

type PushResponse struct {
	Commit struct {
		Commit string `json:"commit"`
	} `json:"commit"`
}

type LogCommit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	WebURL  string `json:"webUrl,omitempty"`
}

type LogResponse struct {
	Commits []LogCommit `json:"commits"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
