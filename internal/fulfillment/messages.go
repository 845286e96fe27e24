package fulfillment

import (
	"fmt"
	"strings"

	"basenames-agent-go/internal/models"
)

const contactSupport = "Please contact support if you've sent payment."

// ExplorerTxURL links a transaction on the block explorer
func ExplorerTxURL(explorerURL, hash string) string {
	return strings.TrimRight(explorerURL, "/") + "/tx/" + hash
}

func paymentReceivedMessage(name string) string {
	return fmt.Sprintf("✅ Payment received! Purchasing %s...", name)
}

func successMessage(explorerURL, name, hash, owner string) string {
	return fmt.Sprintf("🎉 Success! %s has been registered!\n\n"+
		"Transaction: %s\n"+
		"Owner: %s\n\n"+
		"Your Base name is now active! 🚀",
		name, ExplorerTxURL(explorerURL, hash), owner)
}

func registrationFailedMessage(name string, err error) string {
	return fmt.Sprintf("❌ Your payment for %s arrived but the registration failed: %v\n"+
		"Your payment has not been lost. %s", name, err, contactSupport)
}

func timeoutMessage(req models.DepositRequest) string {
	return fmt.Sprintf("⌛ No payment of %s ETH for %s reached %s before it expired.\n"+
		"Send 'buy %s' to start again. %s",
		req.Price, req.Name, req.DepositAddress, req.Name, contactSupport)
}

func expiredWhileOfflineMessage(req models.DepositRequest) string {
	return fmt.Sprintf("⌛ The deposit window for %s closed while I was offline.\n"+
		"Send 'buy %s' to start again. %s", req.Name, req.Name, contactSupport)
}

func internalErrorMessage(name string) string {
	return fmt.Sprintf("❌ Error processing payment for %s.\n%s", name, contactSupport)
}
