package router

import (
	"fmt"
	"strings"

	"github.com/bdobrica/hashi/internal/hashi/provider"
)

// Fixed user-facing replies.
const (
	msgRateLimited = "Too many key attempts! Try again in an hour."

	msgPleaseBind = `Please set your API key (e.g., "!grok <key>").`

	msgBindPersistFailed = "Your key checked out, but I couldn't save the binding. Please try again."

	msgInvalidKey = "Invalid API key. Please check your key and try again."

	msgNetworkBind = "Network error while validating API key. Please check your connection and try again."

	msgNetworkForward = "Network error while contacting the AI. Please check your connection and try again."
)

// vendorInfo maps well-known provider names to the account label and billing
// console mentioned in credit/quota replies. Unlisted providers fall back to
// their configured name.
var vendorInfo = map[string]struct {
	label   string
	console string
}{
	"grok":    {label: "xAI", console: "console.x.ai"},
	"chatgpt": {label: "OpenAI", console: "platform.openai.com"},
}

func vendorLabel(name string) (label, console string) {
	if v, ok := vendorInfo[name]; ok {
		return v.label, v.console
	}
	return name, "your provider's billing page"
}

// msgOnboarding is the static greeting reply, listing the configured
// providers so the instructions always match the deployment.
func msgOnboarding(names []string) string {
	commands := make([]string, len(names))
	for i, name := range names {
		commands[i] = fmt.Sprintf("\"!%s <api-key>\"", name)
	}
	return fmt.Sprintf(
		"Greetings, stargazer! I'm Hashi, your AI portal. Send %s to start. "+
			"Use a dedicated key and revoke it if shared!",
		strings.Join(commands, " or "),
	)
}

func msgUnknownProvider(name string, names []string) string {
	commands := make([]string, len(names))
	for i, n := range names {
		commands[i] = "!" + n
	}
	return fmt.Sprintf("Unknown AI: %s. Try %s.", name, strings.Join(commands, " or "))
}

func msgUsage(name string) string {
	return fmt.Sprintf("Usage: !%s <api-key>", name)
}

func msgBound(name string) string {
	return fmt.Sprintf("Logged in with %s! Ask away.", name)
}

func msgRebind(name string) string {
	return fmt.Sprintf(
		"I restarted and no longer hold your API key (only its fingerprint is stored). "+
			"Please re-send \"!%s <key>\" to continue.", name)
}

func msgInsufficientCredit(name string) string {
	label, console := vendorLabel(name)
	return fmt.Sprintf(
		"Insufficient credits on your %s account. Please add credits at %s and try again.",
		label, console)
}

func msgQuotaExceeded(name string) string {
	label, console := vendorLabel(name)
	return fmt.Sprintf(
		"Quota exceeded on your %s account. Please check your plan and billing details at %s and try again.",
		label, console)
}

// bindFailureReply selects the user-facing reply for a failed validation
// probe from the error's category.
func bindFailureReply(name string, err error) string {
	ue, ok := provider.AsUpstream(err)
	if !ok {
		return fmt.Sprintf("Failed to validate API key: %s. Please try again.", err)
	}
	switch ue.Category {
	case provider.CategoryInvalidCredential:
		return msgInvalidKey
	case provider.CategoryInsufficientCredit:
		return msgInsufficientCredit(name)
	case provider.CategoryQuotaExceeded:
		return msgQuotaExceeded(name)
	case provider.CategoryNetwork:
		return msgNetworkBind
	default:
		return fmt.Sprintf("Failed to validate API key: %s. Please try again.", ue.Error())
	}
}

// forwardFailureReply selects the reply for a failed forwarded completion.
func forwardFailureReply(name string, err error) string {
	ue, ok := provider.AsUpstream(err)
	if !ok {
		return fmt.Sprintf("Oops, something went wrong: %s. Try again.", err)
	}
	switch ue.Category {
	case provider.CategoryInsufficientCredit:
		return msgInsufficientCredit(name)
	case provider.CategoryQuotaExceeded:
		return msgQuotaExceeded(name)
	case provider.CategoryNetwork:
		return msgNetworkForward
	case provider.CategoryInvalidCredential:
		return msgInvalidKey
	default:
		return fmt.Sprintf("Oops, something went wrong: %s. Try again.", ue.Error())
	}
}
