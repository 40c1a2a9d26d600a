package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/bridge"
	"github.com/recrutai/engage-server-go/internal/config"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/observability"
	redisclient "github.com/recrutai/engage-server-go/internal/redis"
	"github.com/recrutai/engage-server-go/internal/repository"
	"github.com/recrutai/engage-server-go/internal/util"
)

const (
	apologyReply  = "Desculpe, %s. Tivemos um problema para processar sua solicitação. Nossa equipe já foi avisada e vai retornar em breve."
	fallbackReply = "Olá, %s! Não consegui entender sua mensagem. Responda com o número de uma das opções enviadas ou escreva sua dúvida que nossa equipe vai ajudar."
)

var errNoInterview = errors.New("candidate has no upcoming interview")

// intentActions maps classified intents to the action they trigger.
// Intents not listed get the fallback reply.
var intentActions = map[model.Intent]model.Action{
	model.IntentConfirmInterview:    model.ActionConfirmInterview,
	model.IntentRescheduleInterview: model.ActionRescheduleInterview,
	model.IntentTalkToHuman:         model.ActionEscalateHuman,
	model.IntentWithdraw:            model.ActionEscalateHuman,
	model.IntentSendDocuments:       model.ActionRequestDocuments,
	model.IntentJobInterest:         model.ActionSendJobLink,
}

// ActionContext identifies who an action is about and which session talks
// to them. Address defaults to the candidate's phone.
type ActionContext struct {
	SessionID   string `json:"sessionId"`
	CandidateID string `json:"candidatoId"`
	Address     string `json:"address,omitempty"`
}

type ActionResult struct {
	Action  model.Action `json:"action"`
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Reply   string       `json:"reply,omitempty"`
}

// actionPlan is what a handler decided: the confirmation to send and the
// mutation to apply once it went out.
type actionPlan struct {
	reply string
	apply func(ctx context.Context) error
}

type actionHandler func(ctx context.Context, c *model.Candidate) (*actionPlan, error)

// ActionDispatcher executes domain actions and answers inbound candidate
// messages. Confirmations are sent directly through the session, not the
// queue.
type ActionDispatcher struct {
	sender     Sender
	candidates repository.CandidateRepository
	templates  repository.TemplateRepository
	outbound   repository.OutboundMessageRepository
	router     *IntentRouter
	notifier   Notifier
	loc        *time.Location
	now        func() time.Time

	handlers map[model.Action]actionHandler
}

func NewActionDispatcher(
	sender Sender,
	candidates repository.CandidateRepository,
	templates repository.TemplateRepository,
	outbound repository.OutboundMessageRepository,
	router *IntentRouter,
	notifier Notifier,
	loc *time.Location,
) *ActionDispatcher {
	if loc == nil {
		loc = time.UTC
	}
	d := &ActionDispatcher{
		sender:     sender,
		candidates: candidates,
		templates:  templates,
		outbound:   outbound,
		router:     router,
		notifier:   notifier,
		loc:        loc,
		now:        time.Now,
	}
	d.handlers = map[model.Action]actionHandler{
		model.ActionConfirmInterview:    d.confirmInterview,
		model.ActionRescheduleInterview: d.rescheduleInterview,
		model.ActionEscalateHuman:       d.escalateHuman,
		model.ActionRequestDocuments:    d.requestDocuments,
		model.ActionAdvanceStage:        d.advanceStage,
		model.ActionSendJobLink:         d.sendJobLink,
		model.ActionNotifyApproval:      d.notifyApproval,
		model.ActionNotifyRejection:     d.notifyRejection,
	}
	return d
}

// Execute runs action for the candidate in ac. Input problems are returned
// as errors; a failing handler yields an unsuccessful result and the
// candidate gets an apology.
func (d *ActionDispatcher) Execute(ctx context.Context, action model.Action, ac ActionContext) (*ActionResult, error) {
	handler, ok := d.handlers[action]
	if !ok {
		return nil, apperrors.UnknownAction(string(action))
	}
	if strings.TrimSpace(ac.SessionID) == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if strings.TrimSpace(ac.CandidateID) == "" {
		return nil, apperrors.MissingRequired("candidatoId")
	}

	candidate, err := d.candidates.FindByID(ctx, ac.CandidateID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if candidate == nil {
		return nil, apperrors.NotFound("candidate")
	}
	if ac.Address == "" {
		ac.Address = candidate.Phone
	}

	result := &ActionResult{Action: action}

	plan, err := handler(ctx, candidate)
	if err == nil {
		err = d.reply(ctx, ac, candidate, plan.reply)
	}
	if err == nil && plan.apply != nil {
		err = plan.apply(ctx)
	}

	if err != nil {
		failure := apperrors.ActionFailed(string(action), err)
		result.Error = failure.Error()
		observability.Actions.WithLabelValues(string(action), "error").Inc()
		log.Error().
			Err(err).
			Str("action", string(action)).
			Str("candidatoId", candidate.ID).
			Str("sessionId", ac.SessionID).
			Msg("action failed")

		if sendErr := d.reply(ctx, ac, candidate, fmt.Sprintf(apologyReply, candidate.FirstName())); sendErr != nil {
			log.Warn().Err(sendErr).Str("candidatoId", candidate.ID).Msg("failed to send apology")
		}
		return result, nil
	}

	result.Success = true
	result.Reply = plan.reply
	observability.Actions.WithLabelValues(string(action), "ok").Inc()
	log.Info().
		Str("action", string(action)).
		Str("candidatoId", candidate.ID).
		Str("sessionId", ac.SessionID).
		Msg("action executed")
	return result, nil
}

// Respond answers an inbound message from a known candidate. A bare option
// number is resolved against the quick replies of the last event sent to the
// candidate; anything else goes through the intent router.
func (d *ActionDispatcher) Respond(ctx context.Context, in Inbound) {
	if in.Candidate == nil || in.Message == nil {
		return
	}
	ac := ActionContext{SessionID: in.SessionID, CandidateID: in.Candidate.ID, Address: in.Address}
	text := in.Message.Text

	if util.IsQuickReply(text) {
		action, ok := d.resolveQuickReply(ctx, in.Address, strings.TrimSpace(text))
		if ok {
			d.execute(ctx, action, ac)
			return
		}
		d.fallback(ctx, ac, in.Candidate)
		return
	}

	cls := d.router.Classify(ctx, text)
	action, mapped := intentActions[cls.Label]
	if cls.Confidence < config.ActionConfidenceThreshold || !mapped {
		log.Debug().
			Str("candidatoId", in.Candidate.ID).
			Str("label", string(cls.Label)).
			Float64("confidence", cls.Confidence).
			Msg("no action for inbound message")
		d.fallback(ctx, ac, in.Candidate)
		return
	}
	d.execute(ctx, action, ac)
}

func (d *ActionDispatcher) execute(ctx context.Context, action model.Action, ac ActionContext) {
	if _, err := d.Execute(ctx, action, ac); err != nil {
		log.Error().Err(err).Str("action", string(action)).Msg("inbound action rejected")
	}
}

func (d *ActionDispatcher) resolveQuickReply(ctx context.Context, address, code string) (model.Action, bool) {
	tag, err := d.outbound.LatestSentEventTag(ctx, address)
	if err != nil {
		log.Warn().Err(err).Msg("failed to look up last event for quick reply")
		return "", false
	}
	if tag == "" {
		return "", false
	}

	mapping, err := d.templates.FindQuickReply(ctx, tag, code)
	if err != nil {
		log.Warn().Err(err).Str("eventTag", tag).Msg("failed to look up quick reply")
		return "", false
	}
	if mapping == nil {
		log.Debug().Str("eventTag", tag).Str("option", code).Msg("quick reply option not mapped")
		return "", false
	}

	log.Debug().
		Str("eventTag", tag).
		Str("option", code).
		Str("action", string(mapping.ActionName)).
		Msg("quick reply resolved")
	return mapping.ActionName, true
}

func (d *ActionDispatcher) fallback(ctx context.Context, ac ActionContext, c *model.Candidate) {
	if err := d.reply(ctx, ac, c, fmt.Sprintf(fallbackReply, c.FirstName())); err != nil {
		log.Warn().Err(err).Str("candidatoId", c.ID).Msg("failed to send fallback reply")
	}
}

// reply sends text straight through the session and publishes it.
func (d *ActionDispatcher) reply(ctx context.Context, ac ActionContext, c *model.Candidate, text string) error {
	if err := d.sender.Send(ctx, ac.SessionID, ac.Address, text); err != nil {
		return err
	}

	sentAt := d.now()
	msg := &model.OutboundMessage{
		SessionID:        ac.SessionID,
		RecipientRef:     &c.ID,
		RecipientAddress: ac.Address,
		RenderedBody:     text,
		Status:           model.OutboundStatusSent,
		SentAt:           &sentAt,
	}
	d.notifier.Emit(bridge.NewEvent(bridge.EventNewMessage, msg.ToEventData()),
		redisclient.Topic(bridge.TopicSession, ac.SessionID),
		redisclient.Topic(bridge.TopicTenant, c.TenantID),
		redisclient.Topic(bridge.TopicCandidate, c.ID),
	)
	return nil
}

func (d *ActionDispatcher) nextInterview(ctx context.Context, c *model.Candidate) (*model.Interview, error) {
	interview, err := d.candidates.NextInterview(ctx, c.ID, d.now())
	if err != nil {
		return nil, err
	}
	if interview == nil {
		return nil, errNoInterview
	}
	return interview, nil
}

func (d *ActionDispatcher) confirmInterview(ctx context.Context, c *model.Candidate) (*actionPlan, error) {
	interview, err := d.nextInterview(ctx, c)
	if err != nil {
		return nil, err
	}
	at := interview.ScheduledAt.In(d.loc)
	return &actionPlan{
		reply: fmt.Sprintf("Perfeito, %s! Sua entrevista do dia %s às %s está confirmada.",
			c.FirstName(), at.Format("02/01/2006"), at.Format("15:04")),
		apply: func(ctx context.Context) error {
			return d.candidates.SetInterviewStatus(ctx, interview.ID, model.InterviewConfirmed)
		},
	}, nil
}

func (d *ActionDispatcher) rescheduleInterview(ctx context.Context, c *model.Candidate) (*actionPlan, error) {
	interview, err := d.nextInterview(ctx, c)
	if err != nil {
		return nil, err
	}
	at := interview.ScheduledAt.In(d.loc)
	return &actionPlan{
		reply: fmt.Sprintf("Sem problemas, %s. Registramos seu pedido para remarcar a entrevista do dia %s. Nossa equipe vai enviar novas opções de horário.",
			c.FirstName(), at.Format("02/01/2006")),
		apply: func(ctx context.Context) error {
			return d.candidates.SetInterviewStatus(ctx, interview.ID, model.InterviewRescheduleRequested)
		},
	}, nil
}

func (d *ActionDispatcher) escalateHuman(_ context.Context, c *model.Candidate) (*actionPlan, error) {
	return &actionPlan{
		reply: fmt.Sprintf("Certo, %s. Um recrutador da nossa equipe vai continuar o atendimento por aqui em breve.", c.FirstName()),
		apply: func(ctx context.Context) error {
			return d.candidates.FlagForHuman(ctx, c.ID)
		},
	}, nil
}

func (d *ActionDispatcher) requestDocuments(_ context.Context, c *model.Candidate) (*actionPlan, error) {
	return &actionPlan{
		reply: fmt.Sprintf("%s, por favor envie por aqui uma foto do seu RG, CPF e comprovante de residência.", c.FirstName()),
		apply: func(ctx context.Context) error {
			return d.candidates.MarkDocumentsRequested(ctx, c.ID)
		},
	}, nil
}

func (d *ActionDispatcher) advanceStage(_ context.Context, c *model.Candidate) (*actionPlan, error) {
	return &actionPlan{
		reply: fmt.Sprintf("Boas notícias, %s! Você avançou para a próxima etapa do processo seletivo.", c.FirstName()),
		apply: func(ctx context.Context) error {
			stage, err := d.candidates.AdvanceStage(ctx, c.ID)
			if err != nil {
				return err
			}
			log.Debug().Str("candidatoId", c.ID).Int("stage", stage).Msg("candidate advanced")
			return nil
		},
	}, nil
}

func (d *ActionDispatcher) job(ctx context.Context, c *model.Candidate) (*model.Job, error) {
	if c.JobID == nil {
		return nil, nil
	}
	return d.candidates.FindJob(ctx, *c.JobID)
}

func (d *ActionDispatcher) sendJobLink(ctx context.Context, c *model.Candidate) (*actionPlan, error) {
	job, err := d.job(ctx, c)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.New("candidate has no job posting")
	}
	return &actionPlan{
		reply: fmt.Sprintf("%s, aqui está o link da vaga %s: %s", c.FirstName(), job.Title, job.URL),
	}, nil
}

func (d *ActionDispatcher) notifyApproval(ctx context.Context, c *model.Candidate) (*actionPlan, error) {
	job, err := d.job(ctx, c)
	if err != nil {
		return nil, err
	}
	position := ""
	if job != nil {
		position = " para a vaga " + job.Title
	}
	return &actionPlan{
		reply: fmt.Sprintf("Parabéns, %s! Você foi aprovado(a) no processo seletivo%s. Em breve enviaremos os próximos passos.", c.FirstName(), position),
	}, nil
}

func (d *ActionDispatcher) notifyRejection(ctx context.Context, c *model.Candidate) (*actionPlan, error) {
	job, err := d.job(ctx, c)
	if err != nil {
		return nil, err
	}
	position := ""
	if job != nil {
		position = " para a vaga " + job.Title
	}
	return &actionPlan{
		reply: fmt.Sprintf("Olá, %s. Agradecemos sua participação no processo seletivo%s. Neste momento seguiremos com outros perfis, mas manteremos seu currículo em nosso banco de talentos.", c.FirstName(), position),
	}, nil
}
