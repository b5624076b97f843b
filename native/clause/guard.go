package clause

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module has been administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is paused. A nil view
// or empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed pause set, typically loaded from configuration.
type StaticPauses map[string]bool

// NewStaticPauses builds a pause view from a list of module names.
func NewStaticPauses(modules []string) StaticPauses {
	p := make(StaticPauses, len(modules))
	for _, m := range modules {
		if m != "" {
			p[m] = true
		}
	}
	return p
}

// IsPaused implements the PauseView interface.
func (p StaticPauses) IsPaused(module string) bool { return p[module] }
