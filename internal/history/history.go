// Package history backs the message history screen: a filtered list of
// messages with cancel and edit for the ones still scheduled.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/therapycompanion/reminders/internal/apiclient"
	"github.com/therapycompanion/reminders/internal/model"
)

var (
	ErrNotListed     = errors.New("message is not in the current list")
	ErrNotScheduled  = errors.New("only scheduled messages can be changed")
	ErrContentLocked = errors.New("content of this message type cannot be edited")
)

type API interface {
	ListMessages(ctx context.Context, f apiclient.Filter) ([]model.Message, error)
	Cancel(ctx context.Context, id int64, expectedVersion *int) (model.Message, error)
	UpdateMessage(ctx context.Context, id int64, req apiclient.UpdateRequest) (model.Message, error)
}

// Actions says which controls are shown for one row.
type Actions struct {
	CanEdit         bool
	CanCancel       bool
	ContentEditable bool
}

func ActionsFor(m model.Message) Actions {
	mutable := m.Status.Mutable()
	return Actions{
		CanEdit:         mutable,
		CanCancel:       mutable,
		ContentEditable: mutable && m.MessageType.Policy().EditableContent,
	}
}

// Patch is a partial edit. Nil fields stay as they are.
type Patch struct {
	Content        *string
	RecipientPhone *string
	SendAt         *time.Time
}

type Controller struct {
	api API

	mu     sync.Mutex
	filter apiclient.Filter
	items  []model.Message
	err    string
}

func New(api API) *Controller {
	return &Controller{api: api}
}

// Load fetches the list for the current filter. The last result is the
// only thing kept.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()

	items, err := c.api.ListMessages(ctx, f)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.err = err.Error()
		return err
	}
	c.items = items
	c.err = ""
	return nil
}

func (c *Controller) Refresh(ctx context.Context) error {
	return c.Load(ctx)
}

func (c *Controller) SetFilter(ctx context.Context, f apiclient.Filter) error {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	return c.Load(ctx)
}

func (c *Controller) Filter() apiclient.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.items...)
}

func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Actions(m model.Message) Actions {
	return ActionsFor(m)
}

func (c *Controller) listed(id int64) (model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.items {
		if m.ID == id {
			return m, nil
		}
	}
	return model.Message{}, ErrNotListed
}

func (c *Controller) setErr(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err.Error()
	return err
}

// Cancel cancels a listed scheduled message and reloads the list. Like Edit,
// it sends the listed version.
func (c *Controller) Cancel(ctx context.Context, id int64) error {
	m, err := c.listed(id)
	if err != nil {
		return c.setErr(err)
	}
	if !ActionsFor(m).CanCancel {
		return c.setErr(ErrNotScheduled)
	}

	version := m.Version
	if _, err := c.api.Cancel(ctx, id, &version); err != nil {
		return c.setErr(err)
	}
	return c.Load(ctx)
}

// Edit applies p to a listed scheduled message and reloads the list. The
// listed version is sent along, so an edit racing the dispatcher fails
// instead of changing a message that was already sent.
func (c *Controller) Edit(ctx context.Context, id int64, p Patch) error {
	m, err := c.listed(id)
	if err != nil {
		return c.setErr(err)
	}
	a := ActionsFor(m)
	if !a.CanEdit {
		return c.setErr(ErrNotScheduled)
	}
	if p.Content != nil && !a.ContentEditable {
		return c.setErr(ErrContentLocked)
	}

	version := m.Version
	_, err = c.api.UpdateMessage(ctx, id, apiclient.UpdateRequest{
		Content:         p.Content,
		RecipientPhone:  p.RecipientPhone,
		SendAt:          p.SendAt,
		ExpectedVersion: &version,
	})
	if err != nil {
		return c.setErr(err)
	}
	return c.Load(ctx)
}
