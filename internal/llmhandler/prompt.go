package llmhandler

import (
	"github.com/haasonsaas/nexus/internal/promptbuilder"
	"github.com/haasonsaas/nexus/pkg/models"
)

// systemPrompt assembles the system prompt for agentID's conversation (spec
// §4.8 step 2), sourced from its role's prompt and tool groups, the task
// brief carried on the spawning message, and its known contacts.
func (h *Handler) systemPrompt(agentID string, msg *models.Message) string {
	rolePrompt := ""
	var toolGroups []string
	if meta, ok := h.org.GetAgent(agentID); ok {
		if role, ok := h.org.GetRole(meta.RoleID); ok {
			rolePrompt = role.RolePrompt
			toolGroups = role.ToolGroupList
		}
	}

	taskBrief := ""
	if msg != nil && msg.Payload.Extra != nil {
		if tb, ok := msg.Payload.Extra["taskBrief"].(string); ok {
			taskBrief = tb
		}
	}

	var contactList []promptbuilder.Contact
	if h.contactsReg != nil {
		for _, c := range h.contactsReg.ListContacts(agentID) {
			contactList = append(contactList, promptbuilder.Contact{AgentID: c.AgentID, Label: c.Label})
		}
	}

	return h.prompts.BuildSystemPrompt(BasePrompt, rolePrompt, taskBrief, contactList, toolGroups)
}
