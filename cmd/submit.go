package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"anonsend/auth"
	"anonsend/submission"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Redeem an access code and queue one anonymous message",
	Long: `Redeems a single-use access code, then screens and queues one message.
Any value not given as a flag is asked for interactively.`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var (
	submitCode    string
	submitTo      string
	submitSubject string
	submitBody    string
)

var (
	errAccessDenied = errors.New("access denied: invalid or already used code")
	errNotQueued    = errors.New("message was not queued")
)

func init() {
	submitCmd.Flags().StringVar(&submitCode, "code", "", "one-time access code")
	submitCmd.Flags().StringVar(&submitTo, "to", "", "recipient email address")
	submitCmd.Flags().StringVar(&submitSubject, "subject", "", "message subject")
	submitCmd.Flags().StringVar(&submitBody, "body", "", "message body")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	codec, _, err := a.codec()
	if err != nil {
		return err
	}
	gate, err := a.gate()
	if err != nil {
		return err
	}
	service := submission.NewService(a.queue(codec), a.moderator(), a.logger, a.store)

	out := cmd.OutOrStdout()
	interactive := submitCode == "" || submitTo == "" || submitBody == ""

	code := submitCode
	if code == "" {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Access code").EchoMode(huh.EchoModePassword).Value(&code).Validate(nonEmpty("access code")),
		)).Run(); err != nil {
			return err
		}
	}

	session := gate.NewSession()
	defer session.End()
	if err := authenticate(cmd.Context(), session, code); err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render("Access granted. You may send one message."))

	draft := submission.Draft{Recipient: submitTo, Subject: submitSubject, Content: submitBody}
	for {
		if interactive {
			send, err := composeDraft(&draft)
			if err != nil {
				return err
			}
			if !send {
				fmt.Fprintln(out, warnStyle.Render("Cancelled. The code has been used and nothing was sent."))
				return nil
			}
		}

		outcome, err := service.SubmitAs(cmd.Context(), session, draft)
		if err != nil {
			return err
		}
		if outcome.Queued {
			fmt.Fprintln(out, okStyle.Render("Message queued for delivery."))
			return nil
		}

		reportRejection(out, outcome)
		if !interactive {
			return errNotQueued
		}
	}
}

func authenticate(ctx context.Context, session *auth.Session, code string) error {
	decision, err := session.Authenticate(ctx, code)
	if err != nil {
		return err
	}
	if !decision.Granted() {
		return errAccessDenied
	}
	return nil
}

// composeDraft fills draft from a form, keeping values already present.
// It reports false when the user declines to send.
func composeDraft(draft *submission.Draft) (bool, error) {
	send := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Recipient email").Value(&draft.Recipient).Validate(nonEmpty("recipient")),
			huh.NewInput().Title("Subject").Value(&draft.Subject),
			huh.NewText().Title("Message").Value(&draft.Content).Validate(nonEmpty("message")),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Send this message anonymously?").Value(&send),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return send, nil
}

func reportRejection(w io.Writer, outcome submission.Outcome) {
	switch outcome.Reason {
	case submission.ReasonFlaggedContent:
		fmt.Fprintln(w, errStyle.Render("Message rejected: it appears to contain harmful content."))
	case submission.ReasonInvalidInput:
		fmt.Fprintln(w, errStyle.Render("Message rejected: "+outcome.Detail))
	default:
		fmt.Fprintln(w, errStyle.Render("Message rejected: "+outcome.Reason))
	}
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
