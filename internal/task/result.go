package task

// Result is the reply of a handler. It always carries "ok" and, by
// convention, "agent"; the remaining keys depend on the handler.
type Result map[string]any

const (
	KeyOK    = "ok"
	KeyAgent = "agent"
	KeyError = "error"
)

func Success(agent string) Result {
	return Result{KeyOK: true, KeyAgent: agent}
}

// Failure builds an ok=false result. An empty message is replaced so the
// error key is always present.
func Failure(agent, msg string) Result {
	if msg == "" {
		msg = "unknown error"
	}
	return Result{KeyOK: false, KeyAgent: agent, KeyError: msg}
}

func (r Result) OK() bool {
	ok, _ := r[KeyOK].(bool)
	return ok
}

func (r Result) Agent() string {
	s, _ := r[KeyAgent].(string)
	return s
}

// ErrorMessage returns the "error" key, empty for successful results.
func (r Result) ErrorMessage() string {
	s, _ := r[KeyError].(string)
	return s
}

// With sets key to value and returns r for chaining.
func (r Result) With(key string, value any) Result {
	r[key] = value
	return r
}

// Files returns the "files" key as file descriptors, accepting both typed
// slices and decoded JSON.
func (r Result) Files() []File {
	files, _ := FilesFrom(r["files"])
	return files
}
