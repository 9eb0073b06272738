package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/subscribely/notifier/internal/db"
)

// tierContent is the table driving subject lines and body framing per
// urgency tier. Severity markers affect wording only, never logic.
type tierContent struct {
	subject string
	title   string
	lead    string
}

var tierTable = map[Tier]tierContent{
	TierExpired: {
		subject: "Your Subscriptions Have Expired",
		title:   "Expired Subscriptions",
		lead:    "Your subscriptions have expired and need immediate attention!",
	},
	TierCritical: {
		subject: "Subscriptions Expiring Today",
		title:   "Critical - Expiring Today",
		lead:    "Your subscriptions are expiring today! Please renew them immediately.",
	},
	TierUrgent: {
		subject: "Subscriptions Expiring Soon",
		title:   "Urgent - Expiring in 1-3 Days",
		lead:    "Your subscriptions are expiring very soon. Don't miss out!",
	},
	TierWarning: {
		subject: "Reminder: Subscriptions Expiring This Week",
		title:   "Warning - Expiring in 4-7 Days",
		lead:    "This is a friendly reminder about your upcoming subscription renewals.",
	},
}

// Compose builds the subject and plain-text body for one tier group.
// It performs no I/O and never fails; missing optional fields are
// simply omitted.
func Compose(user *db.User, tier Tier, subs []*db.Subscription, now time.Time) (subject, body string) {
	content, ok := tierTable[tier]
	if !ok {
		content = tierTable[TierWarning]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.FirstName)
	b.WriteString(content.lead)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s:\n\n", content.title)

	for _, sub := range subs {
		daysLeft := DaysUntil(sub.RenewalDate, now)
		status := "EXPIRED"
		if daysLeft > 0 {
			plural := "s"
			if daysLeft == 1 {
				plural = ""
			}
			status = fmt.Sprintf("%d day%s left", daysLeft, plural)
		}

		fmt.Fprintf(&b, "- %s\n", sub.ServiceName)
		fmt.Fprintf(&b, "  Plan: %s - ₹%s/month\n", sub.Plan, sub.Price.String())
		fmt.Fprintf(&b, "  Renewal date: %s\n", sub.RenewalDate.Format("2 Jan 2006"))
		fmt.Fprintf(&b, "  Status: %s\n", status)
		if sub.ServiceURL != "" {
			fmt.Fprintf(&b, "  Link: %s\n", sub.ServiceURL)
		}
		b.WriteString("\n")
	}

	b.WriteString("Log in to your Subscribely dashboard to manage your subscriptions.\n\n")
	b.WriteString("This is an automated reminder from Subscribely.\n")
	b.WriteString("Best regards,\nThe Subscribely Team\n")

	return content.subject, b.String()
}

// ComposeWelcome builds the greeting sent on signup, or on login for a
// returning user.
func ComposeWelcome(user *db.User, returning bool) (subject, body string) {
	var b strings.Builder

	if returning {
		subject = "Welcome back to Subscribely!"
		fmt.Fprintf(&b, "Hi %s,\n\nGreat to see you back!\n\n", user.FirstName)
	} else {
		subject = "Welcome to Subscribely!"
		fmt.Fprintf(&b, "Hi %s,\n\nThank you for joining Subscribely!\n\n", user.FirstName)
	}

	b.WriteString("Start managing your subscriptions now.\n\n")
	b.WriteString("Best regards,\nThe Subscribely Team\n")

	return subject, b.String()
}
