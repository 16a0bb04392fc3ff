package session

import (
	"strings"

	"github.com/google/uuid"

	"github.com/doublelife/doublelife-kit/pkg/activity"
)

// Record appends an activity to the active session of id. It reports false
// when there is no session or the category is switched off. Block events
// are coalesced and may land in the log later as one summary line.
func (m *Manager) Record(id uuid.UUID, typ activity.Type, details, location string) bool {
	if !m.Settings().Logging.Enabled(typ) {
		return false
	}
	sess, ok := m.Get(id)
	if !ok {
		return false
	}
	m.metrics.ActivityRecorded(typ.String())

	switch typ {
	case activity.TypeBlockPlace, activity.TypeBlockBreak:
		a, flushed := m.batcher.Add(id, typ, details, location)
		if flushed {
			return sess.log.Append(a)
		}
		return true
	default:
		return sess.log.Append(activity.New(m.clock.Now(), typ, details, location))
	}
}

// IsCommandAllowed decides whether a command line may run. Outside a
// session, restricted commands are refused, and group commands are refused
// for holders of the group capability.
func (m *Manager) IsCommandAllowed(s Sender, commandLine string) bool {
	id, ok := s.Identity()
	if !ok || m.HasActive(id) {
		return true
	}
	name := commandName(commandLine)
	if name == "" {
		return true
	}
	cfg := m.Settings()
	if containsFold(cfg.RestrictedCommands, name) {
		return false
	}
	for capability, cmds := range cfg.GroupCommands {
		if containsFold(cmds, name) && s.HasCapability(capability) {
			return false
		}
	}
	return true
}

func commandName(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/"))
}

func containsFold(list []string, name string) bool {
	for _, c := range list {
		if strings.EqualFold(strings.TrimPrefix(c, "/"), name) {
			return true
		}
	}
	return false
}
