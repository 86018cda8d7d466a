package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"valinemail/internal/config"
	"valinemail/internal/metrics"
	"valinemail/internal/models"
	"valinemail/internal/utils"
)

// Kind names one of the two notification tasks.
type Kind string

const (
	KindNotice Kind = "notice" // 提醒站长
	KindSend   Kind = "send"   // 通知被 @ 的人
)

const (
	ReasonSelfAuthored       = "self-authored"
	ReasonNotReply           = "not a reply"
	ReasonParentVanished     = "parent vanished"
	ReasonParentLookupFailed = "parent lookup failed"
	ReasonNoContact          = "no contact address"
	ReasonOwnerMentioned     = "owner need not be notified of being @-mentioned"
)

// SkipError reports that a task's precondition was not met. It is an outcome, not a failure.
type SkipError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s skipped: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s skipped: %s", e.Kind, e.Reason)
}

func (e *SkipError) Unwrap() error { return e.Err }

// IsSkip reports whether err is a *SkipError.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// Receipt describes a delivered notification.
type Receipt struct {
	Kind    Kind
	To      string
	Subject string
}

// ParentFinder looks up the comment being replied to.
type ParentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Comment, error)
}

type DispatcherDeps struct {
	Sender    Sender
	Templates *Templates
	Parents   ParentFinder
	SMTP      config.SMTPConfig
	Site      config.SiteConfig
	Logger    *zap.SugaredLogger
}

// Dispatcher renders and sends a single notification email.
type Dispatcher struct {
	sender    Sender
	templates *Templates
	parents   ParentFinder
	smtp      config.SMTPConfig
	site      config.SiteConfig
	log       *zap.SugaredLogger
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		sender:    deps.Sender,
		templates: deps.Templates,
		parents:   deps.Parents,
		smtp:      deps.SMTP,
		site:      deps.Site,
		log:       deps.Logger.Named("dispatcher"),
	}
}

// Dispatch runs one task for c. It returns a *SkipError when a precondition is not met
// and any other error when rendering or the transport failed.
func (d *Dispatcher) Dispatch(ctx context.Context, kind Kind, c *models.Comment) (Receipt, error) {
	var (
		receipt Receipt
		err     error
	)
	switch kind {
	case KindNotice:
		receipt, err = d.notice(ctx, c)
	case KindSend:
		receipt, err = d.send(ctx, c)
	default:
		return Receipt{}, fmt.Errorf("unknown notification kind %q", kind)
	}

	var skip *SkipError
	switch {
	case err == nil:
		metrics.MailSent.WithLabelValues(string(kind)).Inc()
	case errors.As(err, &skip):
		metrics.MailSkipped.WithLabelValues(string(kind), skip.Reason).Inc()
	default:
		metrics.MailFailed.WithLabelValues(string(kind)).Inc()
	}
	return receipt, err
}

func (d *Dispatcher) notice(ctx context.Context, c *models.Comment) (Receipt, error) {
	// 站长自己发的评论不需要通知
	if d.smtp.IsOwner(c.Mail) {
		return Receipt{}, &SkipError{Kind: KindNotice, Reason: ReasonSelfAuthored}
	}

	body, err := d.templates.RenderNotice(NoticeData{
		SiteName: d.site.Name,
		SiteURL:  d.site.URL,
		Name:     c.Nick,
		Text:     utils.RenderComment(c.Comment),
		URL:      d.targetURL(c, c.ID),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("render notice: %w", err)
	}

	msg := Message{
		To:      d.smtp.Owner(),
		Subject: fmt.Sprintf("👉 咚！「%s」上有新评论了", d.site.Name),
		HTML:    body,
		Text:    utils.PlainText(body),
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return Receipt{}, err
	}
	return Receipt{Kind: KindNotice, To: msg.To, Subject: msg.Subject}, nil
}

func (d *Dispatcher) send(ctx context.Context, c *models.Comment) (Receipt, error) {
	if !c.IsReply() {
		return Receipt{}, &SkipError{Kind: KindSend, Reason: ReasonNotReply}
	}

	parent, err := d.parents.FindByID(ctx, c.ParentID())
	if errors.Is(err, models.ErrCommentNotFound) {
		return Receipt{}, &SkipError{Kind: KindSend, Reason: ReasonParentVanished}
	}
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// 取消不是查询结果，按失败处理，留给下一轮重试
		return Receipt{}, fmt.Errorf("find parent %s: %w", c.ParentID(), err)
	}
	if err != nil {
		// TODO: decide whether lookup errors should be retried instead of skipped once store outages are observable.
		return Receipt{}, &SkipError{Kind: KindSend, Reason: ReasonParentLookupFailed, Err: err}
	}
	if parent.Mail == "" {
		return Receipt{}, &SkipError{Kind: KindSend, Reason: ReasonNoContact}
	}
	// 站长被 @ 不需要提醒
	if d.smtp.IsOwner(parent.Mail) {
		return Receipt{}, &SkipError{Kind: KindSend, Reason: ReasonOwnerMentioned}
	}

	body, err := d.templates.RenderSend(SendData{
		SiteName: d.site.Name,
		SiteURL:  d.site.URL,
		PName:    parent.Nick,
		PText:    utils.RenderComment(parent.Comment),
		Name:     c.Nick,
		Text:     utils.RenderComment(c.Comment),
		URL:      d.targetURL(c, c.ParentID()),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("render send: %w", err)
	}

	msg := Message{
		To:      parent.Mail,
		Subject: fmt.Sprintf("👉 叮咚！「%s」上有人@了你", d.site.Name),
		HTML:    body,
		Text:    utils.PlainText(body),
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return Receipt{}, err
	}
	return Receipt{Kind: KindSend, To: msg.To, Subject: msg.Subject}, nil
}

func (d *Dispatcher) targetURL(c *models.Comment, anchor string) string {
	return d.site.URL + c.URL + "#" + anchor
}

// Verify exercises the transport configuration.
func (d *Dispatcher) Verify(ctx context.Context) error {
	return d.sender.Verify(ctx)
}
