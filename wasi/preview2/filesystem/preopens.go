package filesystem

import (
	"context"

	"github.com/wippyai/spin-shim/wasi/preview2"
)

type PreopensHost struct {
	resources *preview2.ResourceTable
	preopens  map[string]string
	readOnly  map[string]bool
}

func NewPreopensHost(resources *preview2.ResourceTable, preopens map[string]string) *PreopensHost {
	if preopens == nil {
		preopens = make(map[string]string)
	}
	return &PreopensHost{
		resources: resources,
		preopens:  preopens,
	}
}

// WithReadOnly marks the given guest paths as read-only preopens.
func (h *PreopensHost) WithReadOnly(guestPaths ...string) *PreopensHost {
	if h.readOnly == nil {
		h.readOnly = make(map[string]bool, len(guestPaths))
	}
	for _, p := range guestPaths {
		h.readOnly[p] = true
	}
	return h
}

func (h *PreopensHost) Namespace() string {
	return "wasi:filesystem/preopens@0.2.8"
}

func (h *PreopensHost) GetDirectories(_ context.Context) [][2]interface{} {
	result := make([][2]interface{}, 0, len(h.preopens))

	for logicalPath, physicalPath := range h.preopens {
		desc := preview2.NewDescriptorResource(physicalPath, true, h.readOnly[logicalPath])
		handle := h.resources.Add(desc)
		result = append(result, [2]interface{}{handle, logicalPath})
	}

	return result
}
