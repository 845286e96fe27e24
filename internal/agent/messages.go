package agent

import (
	"fmt"
	"strings"
	"time"

	"basenames-agent-go/internal/fulfillment"
	"basenames-agent-go/internal/models"
)

const (
	welcomeMessage = "👋 Welcome! I help you register Base names.\n" +
		"Type 'help' to see available commands."

	helpMessage = "👋 I help you register Base names!\n\n" +
		"📝 Commands:\n" +
		"• buy yourname.base.eth - Register a name\n" +
		"• check name.base.eth - Check availability\n" +
		"• status - View your requests\n" +
		"• help - Show this message\n\n" +
		"💡 Base names let you have a human-readable address!\n" +
		"Questions? Visit base.org/names"

	rateLimitedMessage   = "Please wait a moment before sending another request."
	unknownCommand       = "I didn't understand that command. Type 'help' for available commands."
	invalidBuyFormat     = "Invalid format. Please use: buy yourname.base.eth\nExample: buy coolname.base.eth"
	invalidCheckFormat   = "Please specify a valid Base name to check."
	noRequestsMessage    = "You don't have any Base name requests yet."
	internalErrorMessage = "❌ Something went wrong handling your message. Please try again."
)

func takenMessage(name string) string {
	return fmt.Sprintf("Sorry, %s is already taken. Try a different name!", name)
}

func lookupFailedMessage(name string) string {
	return fmt.Sprintf("I couldn't check %s right now. Please try again in a moment.", name)
}

func allocationFailedMessage(name string) string {
	return fmt.Sprintf("❌ I couldn't create a deposit address for %s right now. Please try again in a moment.", name)
}

func ledgerFailedMessage(name string) string {
	return fmt.Sprintf("❌ I couldn't save your request for %s. Please try again in a moment.", name)
}

func alreadyPendingMessage(req *models.DepositRequest) string {
	return fmt.Sprintf("⏳ You already have a pending request for %s.\n\n"+
		"📍 Send exactly %s ETH on Base to:\n%s\n\n"+
		"⏱️ It expires at %s.",
		req.Name, req.Price, req.DepositAddress, req.ExpiresAt.UTC().Format("15:04 MST"))
}

func paymentInstructions(req *models.DepositRequest, window time.Duration) string {
	return fmt.Sprintf("🎯 Ready to register %s!\n\n"+
		"📍 Send exactly %s ETH on Base to:\n%s\n\n"+
		"⏱️ This address expires in %s.\n"+
		"💡 Need Base ETH? Bridge at bridge.base.org\n\n"+
		"I'll purchase %s once payment is confirmed!",
		req.Name, req.Price, req.DepositAddress, formatWindow(window), req.Name)
}

func checkMessage(q *models.Quote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📍 %s\n", q.Name)
	if q.Available {
		b.WriteString("Status: ✅ Available\n")
	} else {
		b.WriteString("Status: ❌ Taken\n")
	}
	fmt.Fprintf(&b, "Price: %s ETH\n", q.Price)
	if q.Available {
		fmt.Fprintf(&b, "\nType 'buy %s' to register!", q.Name)
	}
	return b.String()
}

func statusMessage(requests []models.DepositRequest, explorerURL string, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 Your Base name requests:\n\n")
	for _, req := range requests {
		fmt.Fprintf(&b, "• %s\n", req.Name)
		fmt.Fprintf(&b, "  Status: %s\n", statusLabel(req, now))
		fmt.Fprintf(&b, "  Price: %s ETH\n", req.Price)
		switch req.Status {
		case models.StatusPending:
			if !req.IsExpired(now) {
				fmt.Fprintf(&b, "  Deposit: %s\n", req.DepositAddress)
				fmt.Fprintf(&b, "  Expires: %s\n", req.ExpiresAt.UTC().Format("15:04 MST"))
			}
		case models.StatusCompleted:
			fmt.Fprintf(&b, "  TX: %s\n", fulfillment.ExplorerTxURL(explorerURL, req.TransactionHash))
		default:
			if req.FailureReason != "" {
				fmt.Fprintf(&b, "  Reason: %s\n", req.FailureReason)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusLabel(req models.DepositRequest, now time.Time) string {
	switch req.Status {
	case models.StatusPending:
		if req.IsExpired(now) {
			return "expired"
		}
		return "waiting for payment"
	case models.StatusRegistrationFailed:
		return "paid, registration failed"
	default:
		return req.Status
	}
}

func formatWindow(d time.Duration) string {
	if d%time.Minute == 0 {
		minutes := int(d / time.Minute)
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
