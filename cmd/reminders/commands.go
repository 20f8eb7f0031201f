package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/therapycompanion/reminders/internal/apiclient"
	"github.com/therapycompanion/reminders/internal/composer"
	"github.com/therapycompanion/reminders/internal/history"
	"github.com/therapycompanion/reminders/internal/model"
)

var errNotLoggedIn = errors.New("not logged in, run `reminders login` first")

func (g *globalFlags) client() (*apiclient.Client, *apiclient.Session, error) {
	sess, err := apiclient.NewSession(apiclient.FileStore{Path: g.sessionFile})
	if err != nil {
		return nil, nil, err
	}
	return apiclient.New(g.server, sess), sess, nil
}

// authed returns a client for commands that need a login. A rejected token
// clears the session file, so the next command asks for a login again. The
// running command is remembered so login can point back to it.
func (g *globalFlags) authed(cmd *cobra.Command) (*apiclient.Client, error) {
	c, sess, err := g.client()
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated() {
		return nil, errNotLoggedIn
	}
	sess.Visit(location(cmd))
	sess.OnExpire(func(string) {
		fmt.Fprintln(cmd.ErrOrStderr(), "session expired, please log in again")
	})
	return c, nil
}

// location is the command line below the root, e.g. "messages cancel 12".
func location(cmd *cobra.Command) string {
	parts := strings.Fields(cmd.CommandPath())
	if len(parts) > 0 {
		parts = parts[1:]
	}
	return strings.Join(append(parts, cmd.Flags().Args()...), " ")
}

func loginCmd(g *globalFlags) *cobra.Command {
	var email, password, fullName string
	var register bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the token in the session file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = envOr("REMINDERS_PASSWORD", "")
			}
			c, sess, err := g.client()
			if err != nil {
				return err
			}

			var tok apiclient.TokenResponse
			if register {
				tok, err = c.Register(cmd.Context(), email, password, fullName)
			} else {
				tok, err = c.Login(cmd.Context(), email, password)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (therapist %d)\n", tok.FullName, tok.TherapistID)
			if to := sess.ReturnTo(); to != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "you were last at %s\n", to)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or REMINDERS_PASSWORD)")
	cmd.Flags().BoolVar(&register, "register", false, "create the account first")
	cmd.Flags().StringVar(&fullName, "name", "", "full name, used with --register")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.client()
			if err != nil {
				return err
			}
			return c.Logout()
		},
	}
}

func patientsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List or add patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authed(cmd)
			if err != nil {
				return err
			}
			patients, err := c.ListPatients(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPHONE\tNEXT SESSION")
			for _, p := range patients {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.FullName, p.Phone, formatTime(p.NextSessionAt))
			}
			return w.Flush()
		},
	}

	var name, phone, next string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authed(cmd)
			if err != nil {
				return err
			}
			req := apiclient.PatientRequest{FullName: name, Phone: phone}
			if next != "" {
				t, err := parseWhen(next, time.Now())
				if err != nil {
					return err
				}
				req.NextSessionAt = &t
			}
			p, err := c.CreatePatient(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "patient %d added\n", p.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "full name")
	add.Flags().StringVar(&phone, "phone", "", "WhatsApp number")
	add.Flags().StringVar(&next, "next-session", "", "next session time")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}

func composeCmd(g *globalFlags) *cobra.Command {
	var (
		patientID int64
		msgType   string
		content   string
		to        string
		at        string
		notes     []string
	)

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Write a message and send it now or schedule it",
		Long: "Generates the content for the patient unless --content is given. " +
			"Without --at the message is sent right away.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authed(cmd)
			if err != nil {
				return err
			}
			mt, err := model.ParseMessageType(msgType)
			if err != nil {
				return err
			}
			p, err := c.GetPatient(cmd.Context(), patientID)
			if err != nil {
				return err
			}

			comp := composer.New(c)
			if err := comp.Open(p, mt); err != nil {
				return err
			}
			ctxVals, err := parseContext(notes)
			if err != nil {
				return err
			}
			comp.SetContext(ctxVals)
			if err := comp.Generate(cmd.Context()); err != nil {
				return err
			}
			if content != "" {
				if err := comp.EditContent(content); err != nil {
					return err
				}
			}
			if to != "" {
				if err := comp.UseCustomRecipient(to); err != nil {
					return err
				}
			}
			if at != "" {
				t, err := parseWhen(at, time.Now())
				if err != nil {
					return err
				}
				if err := comp.SetSendAt(&t); err != nil {
					return err
				}
			}

			m, err := comp.Submit(cmd.Context())
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().Int64Var(&patientID, "patient", 0, "patient id")
	cmd.Flags().StringVar(&msgType, "type", string(model.CheckIn), "message type")
	cmd.Flags().StringVar(&content, "content", "", "message text, replaces the generated one")
	cmd.Flags().StringVar(&to, "to", "", "send to this number instead of the patient's")
	cmd.Flags().StringVar(&at, "at", "", "send time, RFC 3339, \"2006-01-02 15:04\" local, or +duration")
	cmd.Flags().StringArrayVar(&notes, "context", nil, "key=value passed to content generation")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func messagesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Look at and change sent and scheduled messages",
	}

	var (
		patientID int64
		status    string
		from, to  string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List messages, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authed(cmd)
			if err != nil {
				return err
			}
			f, err := buildFilter(patientID, status, from, to)
			if err != nil {
				return err
			}
			h := history.New(c)
			if err := h.SetFilter(cmd.Context(), f); err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), h)
			return nil
		},
	}
	list.Flags().Int64Var(&patientID, "patient", 0, "only this patient")
	list.Flags().StringVar(&status, "status", "", "only this status")
	list.Flags().StringVar(&from, "from", "", "from date")
	list.Flags().StringVar(&to, "to", "", "to date")

	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a scheduled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, h, err := g.loadHistory(cmd, args[0])
			if err != nil {
				return err
			}
			if err := h.Cancel(cmd.Context(), id); err != nil {
				return notScheduled(id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "message %d cancelled\n", id)
			return nil
		},
	}

	var content, recipient, at string
	edit := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a scheduled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p history.Patch
			if cmd.Flags().Changed("content") {
				p.Content = &content
			}
			if cmd.Flags().Changed("to") {
				p.RecipientPhone = &recipient
			}
			if at != "" {
				t, err := parseWhen(at, time.Now())
				if err != nil {
					return err
				}
				p.SendAt = &t
			}
			if p == (history.Patch{}) {
				return errors.New("nothing to change: use --content, --to or --at")
			}

			id, h, err := g.loadHistory(cmd, args[0])
			if err != nil {
				return err
			}
			if err := h.Edit(cmd.Context(), id, p); err != nil {
				return notScheduled(id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "message %d updated\n", id)
			return nil
		},
	}
	edit.Flags().StringVar(&content, "content", "", "new text")
	edit.Flags().StringVar(&recipient, "to", "", "new recipient number")
	edit.Flags().StringVar(&at, "at", "", "new send time")

	cmd.AddCommand(list, cancel, edit)
	return cmd
}

// loadHistory loads the scheduled messages so cancel and edit are checked
// against what the server currently lists.
func (g *globalFlags) loadHistory(cmd *cobra.Command, rawID string) (int64, *history.Controller, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid message id %q", rawID)
	}
	c, err := g.authed(cmd)
	if err != nil {
		return 0, nil, err
	}
	h := history.New(c)
	st := model.Scheduled
	if err := h.SetFilter(cmd.Context(), apiclient.Filter{Status: &st}); err != nil {
		return 0, nil, err
	}
	return id, h, nil
}

func notScheduled(id int64, err error) error {
	if errors.Is(err, history.ErrNotListed) {
		return fmt.Errorf("message %d is not scheduled", id)
	}
	return err
}

func buildFilter(patientID int64, status, from, to string) (apiclient.Filter, error) {
	var f apiclient.Filter
	if patientID > 0 {
		f.PatientID = &patientID
	}
	if status != "" {
		st, ok := model.ParseStatus(status)
		if !ok {
			return f, fmt.Errorf("unknown status %q", status)
		}
		f.Status = &st
	}
	for _, d := range []struct {
		raw string
		dst **time.Time
	}{{from, &f.DateFrom}, {to, &f.DateTo}} {
		if d.raw == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", d.raw, time.Local)
		if err != nil {
			return f, fmt.Errorf("invalid date %q, want YYYY-MM-DD", d.raw)
		}
		*d.dst = &t
	}
	return f, nil
}

func parseContext(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid context %q, want key=value", kv)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseWhen accepts RFC 3339, a local "2006-01-02 15:04" time, or a
// duration from now written as "+90m".
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printMessage(w io.Writer, m model.Message) {
	when := m.ScheduledSendAt
	if m.SentAt != nil {
		when = m.SentAt
	}
	fmt.Fprintf(w, "message %d %s to %s at %s\n", m.ID, m.Status, m.RecipientPhone, formatTime(when))
	if m.LastError != nil {
		fmt.Fprintf(w, "error: %s\n", *m.LastError)
	}
}

func printMessages(out io.Writer, h *history.Controller) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATIENT\tTYPE\tSTATUS\tSEND AT\tSENT AT\tACTIONS\tCONTENT")
	for _, m := range h.Messages() {
		var actions []string
		a := h.Actions(m)
		if a.CanEdit {
			actions = append(actions, "edit")
		}
		if a.CanCancel {
			actions = append(actions, "cancel")
		}
		if len(actions) == 0 {
			actions = []string{"-"}
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.PatientID, m.MessageType, m.Status,
			formatTime(m.ScheduledSendAt), formatTime(m.SentAt),
			strings.Join(actions, ","), truncate(m.Content, 40))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
