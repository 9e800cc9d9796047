package kernelcache

import (
	"slices"

	"github.com/fxnlabs/kernel-cache/internal/program"
)

// Kernel is a launchable entry point of a compiled Program together with
// its launch geometry. It is immutable.
type Kernel struct {
	key     ConfigKey
	program *program.Program
	entry   string
	local   []int
	global  []int
	params  string
}

func newKernel(key ConfigKey, p *program.Program, req Request) *Kernel {
	return &Kernel{
		key:     key,
		program: p,
		entry:   req.Entry,
		local:   slices.Clone(req.Local),
		global:  slices.Clone(req.Global),
		params:  req.Params,
	}
}

func (k *Kernel) Key() ConfigKey { return k.key }
func (k *Kernel) Program() *program.Program { return k.program }
func (k *Kernel) Entry() string { return k.entry }
func (k *Kernel) Params() string { return k.params }
func (k *Kernel) LocalDims() []int { return slices.Clone(k.local) }
func (k *Kernel) GlobalDims() []int { return slices.Clone(k.global) }
