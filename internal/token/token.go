package token

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	ErrMissing  = errors.New("bot token is not set")
	ErrRejected = errors.New("bot token was rejected")
)

// Require returns the value of the variable name, or ErrMissing with setup
// instructions when it is unset or blank.
func Require(name, envFile string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value != "" {
		return value, nil
	}

	return "", fmt.Errorf("%w: %s", ErrMissing, heredoc.Docf(`
		%[1]s is empty.
		Add a line like

		    %[1]s=123456:ABC-your-token

		to %[2]s, or export %[1]s before starting the launcher.`, name, envFile))
}

// MissingOptional returns the names from vars that are unset or blank.
func MissingOptional(vars []string) []string {
	var missing []string
	for _, name := range vars {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Verifier checks a token against the bot platform and returns the bot's
// username.
type Verifier interface {
	Verify(token string) (string, error)
}

// TelegramVerifier calls getMe on the Telegram Bot API.
type TelegramVerifier struct {
	// Endpoint is a format string taking the token and the method name,
	// e.g. tgbotapi.APIEndpoint.
	Endpoint string
	Client   *http.Client
}

func NewTelegramVerifier(endpoint string) *TelegramVerifier {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &TelegramVerifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (v *TelegramVerifier) Verify(token string) (string, error) {
	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, v.Endpoint, client)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
		}
		return "", fmt.Errorf("failed to reach the Telegram API: %w", err)
	}

	return bot.Self.UserName, nil
}
