package task

import (
	"github.com/agentfabric/fabric/pkg/profile"
)

// CreationPolicy decides whether handling a request warrants a tracked task
// rather than a plain message response.
type CreationPolicy func(rc *RequestContext) bool

// DefaultCreationPolicy creates a task when the work is expensive
// (capability cost above 50), is an action, or the request metadata asks
// for streaming or a task explicitly.
func DefaultCreationPolicy(rc *RequestContext) bool {
	if rc == nil {
		return false
	}
	if c := rc.Capability; c != nil {
		if c.Cost > 50 {
			return true
		}
		if c.Category == profile.CategoryAction {
			return true
		}
	}
	if rc.Metadata != nil {
		if v, ok := rc.Metadata["streaming"].(bool); ok && v {
			return true
		}
		if v, ok := rc.Metadata["createTask"].(bool); ok && v {
			return true
		}
	}
	return false
}
