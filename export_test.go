package strata

// DirtyTrees returns the number of trees holding uncommitted writes.
func (e *Engine) DirtyTrees() int {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	return len(e.dirty)
}
