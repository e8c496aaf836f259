package disk

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
)

// MountPolicy restricts the mount points at and below a directory.
type MountPolicy struct {
	Deny  bool // nothing may be mounted here or below
	Exact bool // the directory itself may be a mount point, subdirectories not
}

// MountPolicies is a prefix tree of directories and the policy of the
// deepest matching entry applies. The root entry must be present.
type MountPolicies struct {
	components []string
	policy     MountPolicy
	children   []*MountPolicies
}

// DefaultMountPolicies keeps filesystems of the target system away from the
// API filesystems of the installer.
var DefaultMountPolicies = NewMountPolicies(map[string]MountPolicy{
	"/":           {},
	ESPMountpoint: {Exact: true},
	"/dev":        {Deny: true},
	"/proc":       {Deny: true},
	"/run":        {Deny: true},
	"/sys":        {Deny: true},
})

func splitMountpoint(dir string) []string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

func under(components, prefix []string) bool {
	return len(prefix) <= len(components) && slices.Equal(components[:len(prefix)], prefix)
}

func NewMountPolicies(entries map[string]MountPolicy) *MountPolicies {
	root := &MountPolicies{}
	dirs := make([]string, 0, len(entries))
	for dir := range entries {
		dirs = append(dirs, dir)
	}
	// parents before children
	sort.Strings(dirs)
	for _, dir := range dirs {
		root.insert(splitMountpoint(dir), entries[dir])
	}
	return root
}

func (p *MountPolicies) insert(components []string, policy MountPolicy) {
	if len(components) == 0 {
		p.policy = policy
		return
	}
	for _, child := range p.children {
		if under(components, child.components) {
			child.insert(components[len(child.components):], policy)
			return
		}
	}
	p.children = append(p.children, &MountPolicies{components: components, policy: policy})
}

// lookup returns the deepest entry for components and the number of
// components below it.
func (p *MountPolicies) lookup(components []string) (*MountPolicies, int) {
	node := p
	for {
		var next *MountPolicies
		for _, child := range node.children {
			if under(components, child.components) {
				next = child
				break
			}
		}
		if next == nil {
			return node, len(components)
		}
		components = components[len(next.components):]
		node = next
	}
}

// Check returns an error if dir may not be used as a mount point.
func (p *MountPolicies) Check(dir string) error {
	if !path.IsAbs(dir) {
		return fmt.Errorf("mount point %q must be an absolute path", dir)
	}
	if dir != path.Clean(dir) {
		return fmt.Errorf("mount point %q must be a canonical path", dir)
	}
	node, below := p.lookup(splitMountpoint(dir))
	if node.policy.Deny || (node.policy.Exact && below > 0) {
		return fmt.Errorf("mount point %q is not allowed", dir)
	}
	return nil
}
