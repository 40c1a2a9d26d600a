package model

type SessionState string

const (
	SessionStateUninitialized SessionState = "uninitialized"
	SessionStatePairing       SessionState = "pairing"
	SessionStateConnected     SessionState = "connected"
	SessionStateDisconnected  SessionState = "disconnected"
	SessionStateError         SessionState = "error"
	SessionStateLoggedOut     SessionState = "logged_out"
)

type OutboundMessageStatus string

const (
	OutboundStatusPending    OutboundMessageStatus = "pending"
	OutboundStatusProcessing OutboundMessageStatus = "processing"
	OutboundStatusSent       OutboundMessageStatus = "sent"
	OutboundStatusFailed     OutboundMessageStatus = "failed"
)

type ClassificationTier string

const (
	TierExternal ClassificationTier = "external"
	TierLocal    ClassificationTier = "local"
	TierNone     ClassificationTier = "none"
)

// Intent is one label of the closed taxonomy for inbound candidate replies.
type Intent string

const (
	IntentConfirmInterview    Intent = "confirmar_entrevista"
	IntentRescheduleInterview Intent = "remarcar_entrevista"
	IntentTalkToHuman         Intent = "falar_com_humano"
	IntentSendDocuments       Intent = "enviar_documentos"
	IntentJobInterest         Intent = "interesse_vaga"
	IntentWithdraw            Intent = "desistencia"
	IntentGreeting            Intent = "saudacao"
	IntentOther               Intent = "other"
)

// Intents lists the taxonomy in prompt order.
var Intents = []Intent{
	IntentConfirmInterview,
	IntentRescheduleInterview,
	IntentTalkToHuman,
	IntentSendDocuments,
	IntentJobInterest,
	IntentWithdraw,
	IntentGreeting,
	IntentOther,
}

func (i Intent) Valid() bool {
	for _, known := range Intents {
		if i == known {
			return true
		}
	}
	return false
}

// Action names a domain side effect reachable from an inbound reply.
type Action string

const (
	ActionConfirmInterview    Action = "confirmar_entrevista"
	ActionRescheduleInterview Action = "remarcar_entrevista"
	ActionEscalateHuman       Action = "escalar_humano"
	ActionRequestDocuments    Action = "solicitar_documentos"
	ActionAdvanceStage        Action = "avancar_etapa"
	ActionSendJobLink         Action = "enviar_link_vaga"
	ActionNotifyApproval      Action = "notificar_aprovacao"
	ActionNotifyRejection     Action = "notificar_reprovacao"
)

var Actions = []Action{
	ActionConfirmInterview,
	ActionRescheduleInterview,
	ActionEscalateHuman,
	ActionRequestDocuments,
	ActionAdvanceStage,
	ActionSendJobLink,
	ActionNotifyApproval,
	ActionNotifyRejection,
}

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}
