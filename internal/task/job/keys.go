package job

import "strings"

// DefaultGroup is used when a key is created with an empty group.
const DefaultGroup = "DEFAULT"

// JobKey identifies a job definition. Name and group are unique together.
type JobKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewJobKey trims both parts and applies DefaultGroup.
func NewJobKey(name, group string) JobKey {
	return JobKey{Name: strings.TrimSpace(name), Group: normGroup(group)}
}

func (k JobKey) String() string { return normGroup(k.Group) + "." + k.Name }

// Normalize returns the key with DefaultGroup applied.
func (k JobKey) Normalize() JobKey { return NewJobKey(k.Name, k.Group) }

func (k JobKey) IsZero() bool { return strings.TrimSpace(k.Name) == "" }

// Less orders keys by group, then name.
func (k JobKey) Less(o JobKey) bool {
	kg, og := normGroup(k.Group), normGroup(o.Group)
	if kg != og {
		return kg < og
	}
	return k.Name < o.Name
}

// TriggerKey identifies a trigger. Name and group are unique together.
type TriggerKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func NewTriggerKey(name, group string) TriggerKey {
	return TriggerKey{Name: strings.TrimSpace(name), Group: normGroup(group)}
}

func (k TriggerKey) String() string { return normGroup(k.Group) + "." + k.Name }

func (k TriggerKey) Normalize() TriggerKey { return NewTriggerKey(k.Name, k.Group) }

func (k TriggerKey) IsZero() bool { return strings.TrimSpace(k.Name) == "" }

func (k TriggerKey) Less(o TriggerKey) bool {
	kg, og := normGroup(k.Group), normGroup(o.Group)
	if kg != og {
		return kg < og
	}
	return k.Name < o.Name
}

func normGroup(g string) string {
	g = strings.TrimSpace(g)
	if g == "" {
		return DefaultGroup
	}
	return g
}
