package domain

// IsolationProfile is the least-privilege filesystem policy for one run.
// Reads and executes are permitted everywhere; writes only under WritablePaths.
type IsolationProfile struct {
	TaskID        string
	WritablePaths []string
	ReadAll       bool
	ExecAll       bool
	NeedsVCS      bool
}

// AllowsWrite reports whether path falls under one of the writable roots.
func (p *IsolationProfile) AllowsWrite(path string) bool {
	for _, root := range p.WritablePaths {
		if path == root || len(path) > len(root) && path[:len(root)] == root && (root == "/" || path[len(root)] == '/') {
			return true
		}
	}
	return false
}
