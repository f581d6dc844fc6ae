// Package handlers provides the handlers bound to dispatch targets: built-in
// placeholders that acknowledge the intent, and webhook handlers that forward
// it to an external flow.
package handlers

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
)

var placeholderReplies = map[dispatch.Target]string{
	dispatch.TargetMedical:       "[MEDICAL AGENT] Assessing medical concern...",
	dispatch.TargetScheduler:     "[SCHEDULER AGENT] Processing appointment request...",
	dispatch.TargetCloser:        "[CLOSER AGENT] Processing sales inquiry...",
	dispatch.TargetFAQ:           "[FAQ AGENT] Answering technical question...",
	dispatch.TargetGeneralInfo:   "[GENERAL INFO] Thanks for reaching out, a member of our team will follow up shortly.",
	dispatch.TargetEscalation:    "[ESCALATION] Connecting you with a senior clinician now.",
	dispatch.TargetSeniorSales:   "[SENIOR SALES] A senior consultant will review your plan.",
	dispatch.TargetAfterHours:    "[AFTER HOURS] We are closed right now and will reply when the clinic opens.",
	dispatch.TargetMedicalReview: "[MEDICAL REVIEW] Your question will be reviewed by our medical staff first.",
}

// Placeholder answers with a fixed acknowledgement and always resolves.
type Placeholder struct {
	Target dispatch.Target
}

func (p Placeholder) Handle(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.Response{}, err
	}
	reply, ok := placeholderReplies[p.Target]
	if !ok {
		reply = fmt.Sprintf("[%s] Request received.", p.Target)
	}
	return dispatch.Response{
		Fragment: reply,
		Resolved: true,
		Metadata: map[string]any{"handler": "placeholder"},
	}, nil
}

// RegisterPlaceholders binds a Placeholder to every target that has no handler yet.
func RegisterPlaceholders(reg *dispatch.Registry) {
	for _, t := range reg.Missing() {
		reg.Register(t, Placeholder{Target: t})
	}
}
