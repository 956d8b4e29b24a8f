package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	visitNotFoundMsg      = "visit not found"
	activeVisitExistsMsg  = "an active visit already exists for this site"
	uniqueViolationCode   = "23505"
	activeVisitConstraint = "visits_one_active_per_site_idx"
)

// Repository provides Postgres persistence for visits and technicians.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new visits repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var visitColumnList = []string{
	"id", "counterparty_name", "phone", "email", "requested_slot", "address", "latitude", "longitude", "site_key", "status",
	"flow_step", "flow_step_set_at",
	"answer_confirm_choice", "answer_confirm_choice_at",
	"answer_reschedule_preference", "answer_reschedule_preference_at",
	"answer_readiness_window", "answer_readiness_window_at",
	"answer_custom_time", "answer_custom_time_at",
	"answer_budget", "answer_budget_at",
	"answer_timeline", "answer_timeline_at",
	"answer_decision_maker", "answer_decision_maker_at",
	"answer_summary_choice", "answer_summary_choice_at",
	"welcome_due_at", "welcome_sent_at", "welcome_claimed_at", "welcome_attempts", "welcome_last_error",
	"confirmation_due_at", "confirmation_sent_at", "confirmation_claimed_at", "confirmation_attempts", "confirmation_last_error",
	"step_sent_at", "reminders", "step_last_error", "last_outbound_at",
	"last_inbound_at", "last_inbound_text", "last_inbound_type", "last_inbound_message_id", "inbound_fingerprint", "inbound_fingerprint_at",
	"expired_at", "expired_reason", "assignee_id", "assigned_at", "created_at", "updated_at",
}

// answerColumns maps each topic to its answer column; the timestamp column
// carries an _at suffix.
var answerColumns = map[domain.Topic]string{
	domain.TopicConfirmChoice:        "answer_confirm_choice",
	domain.TopicReschedulePreference: "answer_reschedule_preference",
	domain.TopicReadinessWindow:      "answer_readiness_window",
	domain.TopicCustomTime:           "answer_custom_time",
	domain.TopicBudget:               "answer_budget",
	domain.TopicTimeline:             "answer_timeline",
	domain.TopicDecisionMaker:        "answer_decision_maker",
	domain.TopicSummaryChoice:        "answer_summary_choice",
}

// promptColumns maps each initial prompt to its column prefix.
var promptColumns = map[domain.PromptKind]string{
	domain.PromptWelcome:      "welcome",
	domain.PromptConfirmation: "confirmation",
}

func visitColumns(alias string) string {
	if alias == "" {
		return strings.Join(visitColumnList, ", ")
	}
	qualified := make([]string, len(visitColumnList))
	for i, col := range visitColumnList {
		qualified[i] = alias + "." + col
	}
	return strings.Join(qualified, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*domain.Visit, error) {
	var (
		v            domain.Visit
		status       string
		step         string
		stepSentRaw  []byte
		remindersRaw []byte
	)
	a := &v.Conversation.Answers
	c := &v.Conversation

	err := row.Scan(
		&v.ID, &v.Booking.Name, &v.Booking.Phone, &v.Booking.Email, &v.Booking.RequestedSlot, &v.Booking.Address,
		&v.Booking.Latitude, &v.Booking.Longitude, &v.Booking.SiteKey, &status,
		&step, &c.StepSetAt,
		&a.ConfirmChoice.Value, &a.ConfirmChoice.SetAt,
		&a.ReschedulePreference.Value, &a.ReschedulePreference.SetAt,
		&a.ReadinessWindow.Value, &a.ReadinessWindow.SetAt,
		&a.CustomTime.Value, &a.CustomTime.SetAt,
		&a.Budget.Value, &a.Budget.SetAt,
		&a.Timeline.Value, &a.Timeline.SetAt,
		&a.DecisionMaker.Value, &a.DecisionMaker.SetAt,
		&a.SummaryChoice.Value, &a.SummaryChoice.SetAt,
		&c.Welcome.DueAt, &c.Welcome.SentAt, &c.Welcome.ClaimedAt, &c.Welcome.Attempts, &c.Welcome.LastError,
		&c.Confirmation.DueAt, &c.Confirmation.SentAt, &c.Confirmation.ClaimedAt, &c.Confirmation.Attempts, &c.Confirmation.LastError,
		&stepSentRaw, &remindersRaw, &c.StepLastError, &c.LastOutbound,
		&c.Inbound.LastAt, &c.Inbound.LastText, &c.Inbound.LastType, &c.Inbound.LastMessageID, &c.Inbound.Fingerprint, &c.Inbound.FingerprintAt,
		&c.ExpiredAt, &c.ExpiredReason, &v.AssigneeID, &v.AssignedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Status = domain.Status(status)
	c.Step = domain.FlowStep(step)
	c.StepSentAt = map[domain.FlowStep]time.Time{}
	c.Reminders = map[domain.FlowStep]domain.ReminderCounter{}
	if len(stepSentRaw) > 0 {
		if err := json.Unmarshal(stepSentRaw, &c.StepSentAt); err != nil {
			return nil, fmt.Errorf("failed to decode step_sent_at: %w", err)
		}
	}
	if len(remindersRaw) > 0 {
		if err := json.Unmarshal(remindersRaw, &c.Reminders); err != nil {
			return nil, fmt.Errorf("failed to decode reminders: %w", err)
		}
	}

	return &v, nil
}

func collectVisits(rows pgx.Rows) ([]domain.Visit, error) {
	defer rows.Close()

	var visits []domain.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func activeStatusValues() []string {
	values := make([]string, len(domain.ActiveStatuses))
	for i, s := range domain.ActiveStatuses {
		values[i] = string(s)
	}
	return values
}

// Create inserts a new visit. A concurrent or existing active visit for the
// same (phone, site) surfaces as a conflict.
func (r *Repository) Create(ctx context.Context, v *domain.Visit) error {
	query := `
		INSERT INTO visits (
			id, counterparty_name, phone, email, requested_slot, address, latitude, longitude, site_key, status,
			welcome_due_at, confirmation_due_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.pool.Exec(ctx, query,
		v.ID, v.Booking.Name, v.Booking.Phone, v.Booking.Email, v.Booking.RequestedSlot, v.Booking.Address,
		v.Booking.Latitude, v.Booking.Longitude, v.Booking.SiteKey, string(v.Status),
		v.Conversation.Welcome.DueAt, v.Conversation.Confirmation.DueAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == activeVisitConstraint {
			return apperr.Conflict(activeVisitExistsMsg)
		}
		return fmt.Errorf("failed to create visit: %w", err)
	}

	return nil
}

// GetByID retrieves a visit by its ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Visit, error) {
	query := `SELECT ` + visitColumns("") + ` FROM visits WHERE id = $1`

	v, err := scanVisit(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(visitNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return v, nil
}

// FindActiveByCounterparty returns the open visit for a (phone, site) pair.
func (r *Repository) FindActiveByCounterparty(ctx context.Context, phone, siteKey string) (*domain.Visit, error) {
	query := `SELECT ` + visitColumns("") + ` FROM visits
		WHERE phone = $1 AND site_key = $2 AND status = ANY($3) AND flow_step NOT IN ('expired', 'canceled')
		ORDER BY created_at DESC LIMIT 1`

	v, err := scanVisit(r.pool.QueryRow(ctx, query, phone, siteKey, activeStatusValues()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(visitNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to find active visit: %w", err)
	}
	return v, nil
}

// FindActiveByPhone returns the most recent open visit for a phone number.
// Inbound chat events carry no site, so the latest one wins.
func (r *Repository) FindActiveByPhone(ctx context.Context, phone string) (*domain.Visit, error) {
	query := `SELECT ` + visitColumns("") + ` FROM visits
		WHERE phone = $1 AND status = ANY($2) AND flow_step NOT IN ('expired', 'canceled')
		ORDER BY created_at DESC LIMIT 1`

	v, err := scanVisit(r.pool.QueryRow(ctx, query, phone, activeStatusValues()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(visitNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to find active visit by phone: %w", err)
	}
	return v, nil
}

// CountByPhone counts every visit ever created for a phone number.
func (r *Repository) CountByPhone(ctx context.Context, phone string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM visits WHERE phone = $1`, phone).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count visits: %w", err)
	}
	return count, nil
}

// Reschedule moves the requested slot of an open visit.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, slot time.Time, at time.Time) error {
	query := `UPDATE visits SET requested_slot = $2, status = 'rescheduled', updated_at = $3
		WHERE id = $1 AND status IN ('requested', 'confirmed', 'rescheduled')`

	result, err := r.pool.Exec(ctx, query, id, slot, at)
	if err != nil {
		return fmt.Errorf("failed to reschedule visit: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(visitNotFoundMsg)
	}
	return nil
}

// UpdateStatus moves a visit to a new status when it currently holds one of
// the from statuses.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.Status, to domain.Status, at time.Time) (bool, error) {
	values := make([]string, len(from))
	for i, s := range from {
		values[i] = string(s)
	}

	result, err := r.pool.Exec(ctx,
		`UPDATE visits SET status = $3, updated_at = $4 WHERE id = $1 AND status = ANY($2)`,
		id, values, string(to), at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update visit status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// List returns visits newest first, optionally filtered by status and step.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]domain.Visit, error) {
	limit := filter.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + visitColumns("") + ` FROM visits
		WHERE ($1::text = '' OR status = $1)
		  AND ($2::text = '' OR flow_step = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(filter.Status), string(filter.Step), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return collectVisits(rows)
}

// Cancel closes an open visit and, when its conversation is still running,
// moves it to the canceled step so no sweep touches it again.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE visits
		SET status = 'cancelled',
			flow_step = CASE WHEN flow_step IN ('completed', 'canceled', 'expired') THEN flow_step ELSE 'canceled' END,
			flow_step_set_at = CASE WHEN flow_step IN ('completed', 'canceled', 'expired') THEN flow_step_set_at ELSE $2 END,
			welcome_due_at = CASE WHEN welcome_sent_at IS NULL THEN NULL ELSE welcome_due_at END,
			confirmation_due_at = CASE WHEN confirmation_sent_at IS NULL THEN NULL ELSE confirmation_due_at END,
			updated_at = $2
		WHERE id = $1 AND status = ANY($3)`

	result, err := r.pool.Exec(ctx, query, id, at, activeStatusValues())
	if err != nil {
		return false, fmt.Errorf("failed to cancel visit: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ReleaseStaleClaims clears claims older than staleBefore on prompts that were
// never sent.
func (r *Repository) ReleaseStaleClaims(ctx context.Context, staleBefore time.Time) (int64, error) {
	var released int64
	for _, prefix := range []string{"welcome", "confirmation"} {
		query := fmt.Sprintf(`UPDATE visits SET %[1]s_claimed_at = NULL
			WHERE %[1]s_claimed_at IS NOT NULL AND %[1]s_claimed_at < $1 AND %[1]s_sent_at IS NULL`, prefix)
		result, err := r.pool.Exec(ctx, query, staleBefore)
		if err != nil {
			return released, fmt.Errorf("failed to release stale %s claims: %w", prefix, err)
		}
		released += result.RowsAffected()
	}
	return released, nil
}

// ClaimDueWelcome claims welcome prompts that are due and not held by a fresh
// claim.
func (r *Repository) ClaimDueWelcome(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Visit, error) {
	return r.claimDue(ctx, "welcome", "", now, staleBefore, limit)
}

// ClaimDueConfirmation claims confirmation prompts for visits whose
// conversation has not started yet.
func (r *Repository) ClaimDueConfirmation(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Visit, error) {
	return r.claimDue(ctx, "confirmation", "AND flow_step = ''", now, staleBefore, limit)
}

func (r *Repository) claimDue(ctx context.Context, prefix, extra string, now, staleBefore time.Time, limit int) ([]domain.Visit, error) {
	if limit < 1 {
		limit = 50
	}

	query := fmt.Sprintf(`WITH due AS (
		SELECT id
		FROM visits
		WHERE %[1]s_due_at IS NOT NULL AND %[1]s_due_at <= $1
		  AND %[1]s_sent_at IS NULL
		  AND (%[1]s_claimed_at IS NULL OR %[1]s_claimed_at < $2)
		  AND status = ANY($4)
		  %[2]s
		ORDER BY %[1]s_due_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	UPDATE visits v
	SET %[1]s_claimed_at = $1, updated_at = $1
	FROM due
	WHERE v.id = due.id
	RETURNING %[3]s`, prefix, extra, visitColumns("v"))

	rows, err := r.pool.Query(ctx, query, now, staleBefore, limit, activeStatusValues())
	if err != nil {
		return nil, fmt.Errorf("failed to claim due %s prompts: %w", prefix, err)
	}
	visits, err := collectVisits(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed %s prompts: %w", prefix, err)
	}
	return visits, nil
}

// MarkWelcomeSent records a delivered welcome and clears its claim.
func (r *Repository) MarkWelcomeSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	query := `UPDATE visits
		SET welcome_sent_at = $2, welcome_claimed_at = NULL, welcome_last_error = NULL,
			last_outbound_at = $2, updated_at = $2
		WHERE id = $1 AND welcome_sent_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, sentAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark welcome sent: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkConfirmationSent records a delivered confirmation prompt and opens the
// conversation at awaiting_confirm.
func (r *Repository) MarkConfirmationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	query := `UPDATE visits
		SET confirmation_sent_at = $2, confirmation_claimed_at = NULL, confirmation_last_error = NULL,
			flow_step = CASE WHEN flow_step = '' THEN $3 ELSE flow_step END,
			flow_step_set_at = CASE WHEN flow_step = '' THEN $2 ELSE flow_step_set_at END,
			step_sent_at = jsonb_set(step_sent_at, ARRAY[$3::text], to_jsonb($2::timestamptz)),
			last_outbound_at = $2, updated_at = $2
		WHERE id = $1 AND confirmation_sent_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, sentAt, string(domain.StepAwaitingConfirm))
	if err != nil {
		return false, fmt.Errorf("failed to mark confirmation sent: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkPromptFailed records a failed send, reschedules it and releases the claim.
func (r *Repository) MarkPromptFailed(ctx context.Context, id uuid.UUID, kind domain.PromptKind, failure PromptFailure) error {
	prefix, ok := promptColumns[kind]
	if !ok {
		return fmt.Errorf("unknown prompt kind %q", kind)
	}

	query := fmt.Sprintf(`UPDATE visits
		SET %[1]s_attempts = %[1]s_attempts + 1, %[1]s_last_error = $2, %[1]s_due_at = $3,
			%[1]s_claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND %[1]s_sent_at IS NULL`, prefix)

	if _, err := r.pool.Exec(ctx, query, id, failure.Error, failure.NextDueAt); err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", prefix, err)
	}
	return nil
}

func conversationStepValues() []string {
	return domain.StringValues(domain.ConversationSteps)
}

// ListReminderCandidates lists visits sitting in a conversation step since
// before setBefore, whose step prompt was sent and whose reminders are not
// exhausted.
func (r *Repository) ListReminderCandidates(ctx context.Context, setBefore time.Time, limit int) ([]domain.Visit, error) {
	query := `SELECT ` + visitColumns("") + ` FROM visits
		WHERE flow_step = ANY($1)
		  AND flow_step_set_at <= $2
		  AND step_sent_at ? flow_step
		  AND COALESCE((reminders -> flow_step ->> 'count')::int, 0) < $3
		ORDER BY flow_step_set_at ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, conversationStepValues(), setBefore, domain.MaxRemindersPerStep, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}
	return collectVisits(rows)
}

// RecordReminder reserves the next reminder slot for step. It only succeeds
// while the visit is still in step and the counter equals expectedCount.
func (r *Repository) RecordReminder(ctx context.Context, id uuid.UUID, step domain.FlowStep, expectedCount int, at time.Time) (bool, error) {
	query := `UPDATE visits
		SET reminders = jsonb_set(reminders, ARRAY[$2::text],
				jsonb_build_object('count', $3::int + 1, 'lastAt', $4::timestamptz)),
			last_outbound_at = $4, updated_at = $4
		WHERE id = $1 AND flow_step = $2
		  AND COALESCE((reminders -> $2::text ->> 'count')::int, 0) = $3`

	result, err := r.pool.Exec(ctx, query, id, string(step), expectedCount, at)
	if err != nil {
		return false, fmt.Errorf("failed to record reminder: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListRecoveryCandidates lists visits whose current step prompt was never
// recorded as sent and that saw no outbound activity since quietBefore.
func (r *Repository) ListRecoveryCandidates(ctx context.Context, quietBefore time.Time, limit int) ([]domain.Visit, error) {
	query := `SELECT ` + visitColumns("") + ` FROM visits
		WHERE flow_step = ANY($1)
		  AND NOT (step_sent_at ? flow_step)
		  AND (last_outbound_at IS NULL OR last_outbound_at < $2)
		ORDER BY flow_step_set_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, conversationStepValues(), quietBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery candidates: %w", err)
	}
	return collectVisits(rows)
}

// ClaimRecovery stamps last_outbound_at so that no other sweep or webhook
// resends the same step inside the quiet window.
func (r *Repository) ClaimRecovery(ctx context.Context, id uuid.UUID, step domain.FlowStep, quietBefore, at time.Time) (bool, error) {
	query := `UPDATE visits SET last_outbound_at = $4, updated_at = $4
		WHERE id = $1 AND flow_step = $2
		  AND NOT (step_sent_at ? $2::text)
		  AND (last_outbound_at IS NULL OR last_outbound_at < $3)`

	result, err := r.pool.Exec(ctx, query, id, string(step), quietBefore, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim recovery: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// RecordStepSent records the send marker of a step prompt.
func (r *Repository) RecordStepSent(ctx context.Context, id uuid.UUID, step domain.FlowStep, at time.Time) error {
	query := `UPDATE visits
		SET step_sent_at = jsonb_set(step_sent_at, ARRAY[$2::text], to_jsonb($3::timestamptz)),
			step_last_error = NULL, last_outbound_at = $3, updated_at = $3
		WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, string(step), at); err != nil {
		return fmt.Errorf("failed to record step sent: %w", err)
	}
	return nil
}

// RecordStepSendError keeps the last send error for the current step.
func (r *Repository) RecordStepSendError(ctx context.Context, id uuid.UUID, step domain.FlowStep, message string) error {
	query := `UPDATE visits SET step_last_error = $2, updated_at = now() WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, string(step)+": "+message); err != nil {
		return fmt.Errorf("failed to record step send error: %w", err)
	}
	return nil
}

// ExpireInactive moves every conversation idle since inactiveBefore to expired.
func (r *Repository) ExpireInactive(ctx context.Context, inactiveBefore, at time.Time, reason string) (int64, error) {
	query := `UPDATE visits
		SET flow_step = $4, flow_step_set_at = $2, expired_at = $2, expired_reason = $3, updated_at = $2
		WHERE flow_step = ANY($5)
		  AND GREATEST(flow_step_set_at, last_inbound_at) < $1`

	result, err := r.pool.Exec(ctx, query, inactiveBefore, at, reason, string(domain.StepExpired), conversationStepValues())
	if err != nil {
		return 0, fmt.Errorf("failed to expire inactive visits: %w", err)
	}
	return result.RowsAffected(), nil
}

// RecordInbound stores the audit fields of an inbound event without touching
// the conversation.
func (r *Repository) RecordInbound(ctx context.Context, id uuid.UUID, rec InboundRecord) error {
	query := `UPDATE visits
		SET last_inbound_at = $2, last_inbound_text = $3, last_inbound_type = $4, last_inbound_message_id = $5,
			inbound_fingerprint = COALESCE(NULLIF($6::text, ''), inbound_fingerprint),
			inbound_fingerprint_at = CASE WHEN $6::text <> '' THEN $2 ELSE inbound_fingerprint_at END,
			updated_at = $2
		WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, rec.At, rec.Text, rec.Type, rec.MessageID, rec.Fingerprint); err != nil {
		return fmt.Errorf("failed to record inbound event: %w", err)
	}
	return nil
}

// ApplyTransition performs a guarded step transition together with its audit
// fields in a single statement.
func (r *Repository) ApplyTransition(ctx context.Context, id uuid.UUID, t Transition) (bool, error) {
	var status *string
	if t.Status != nil {
		s := string(*t.Status)
		status = &s
	}

	args := []any{
		id, string(t.Next), t.At, status,
		t.Inbound.At, t.Inbound.Text, t.Inbound.Type, t.Inbound.MessageID, t.Inbound.Fingerprint,
		string(t.From),
	}

	answerSet := ""
	answerGuard := ""
	if col, ok := answerColumns[t.Topic]; ok {
		args = append(args, t.Answer)
		answerSet = fmt.Sprintf("%[1]s = $11, %[1]s_at = $3,", col)
		answerGuard = fmt.Sprintf("AND %s IS NULL", col)
	}

	query := fmt.Sprintf(`UPDATE visits
		SET %s
			flow_step = $2,
			flow_step_set_at = CASE WHEN flow_step <> $2 THEN $3 ELSE flow_step_set_at END,
			last_outbound_at = CASE WHEN flow_step <> $2 THEN $3 ELSE last_outbound_at END,
			status = COALESCE($4::text, status),
			last_inbound_at = $5, last_inbound_text = $6, last_inbound_type = $7, last_inbound_message_id = $8,
			inbound_fingerprint = $9, inbound_fingerprint_at = $5,
			updated_at = $3
		WHERE id = $1 AND flow_step = $10 %s
		  AND inbound_fingerprint IS DISTINCT FROM $9`, answerSet, answerGuard)

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply transition: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListAssignable lists approved, unassigned visits created before createdBefore.
func (r *Repository) ListAssignable(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Visit, error) {
	query := `SELECT ` + visitColumns("") + ` FROM visits
		WHERE status = $1 AND assignee_id IS NULL AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(domain.StatusConfirmed), createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignable visits: %w", err)
	}
	return collectVisits(rows)
}

// AssignTechnician reserves technician capacity and sets the assignee in one
// transaction.
func (r *Repository) AssignTechnician(ctx context.Context, visitID, technicianID uuid.UUID, at time.Time) (AssignResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AssignVisitUnavailable, fmt.Errorf("failed to begin assignment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	techResult, err := tx.Exec(ctx, `UPDATE technicians
		SET assigned_today = assigned_today + 1, last_assigned_at = $2, updated_at = $2
		WHERE id = $1 AND active AND assigned_today < daily_cap`, technicianID, at)
	if err != nil {
		return AssignTechnicianUnavailable, fmt.Errorf("failed to reserve technician: %w", err)
	}
	if techResult.RowsAffected() == 0 {
		return AssignTechnicianUnavailable, nil
	}

	visitResult, err := tx.Exec(ctx, `UPDATE visits
		SET assignee_id = $2, assigned_at = $3, status = $4, updated_at = $3
		WHERE id = $1 AND assignee_id IS NULL AND status = $5`,
		visitID, technicianID, at, string(domain.StatusAssigned), string(domain.StatusConfirmed))
	if err != nil {
		return AssignVisitUnavailable, fmt.Errorf("failed to assign visit: %w", err)
	}
	if visitResult.RowsAffected() == 0 {
		return AssignVisitUnavailable, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return AssignVisitUnavailable, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return AssignApplied, nil
}
