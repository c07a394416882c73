package bot

import (
	"fmt"
	"strings"

	"doubtdesk/bot/internal/session"
)

const (
	tokenLogin    = "auth:login"
	tokenSignup   = "auth:signup"
	tokenExamPfx  = "exam:"
	tokenExamDone = "exam:done"
)

// Exams is the fixed set of exam tags offered during signup, in display order.
var Exams = []string{"JEE", "NEET", "CUET", "NDA", "OLYMPIAD", "BOARDS"}

const (
	msgWelcome          = "Welcome to the Doubt Solving Portal! 🙏\n\nDo you already have an account?"
	msgChooseOption     = "Please choose one of the options below."
	msgWelcomeBack      = "👋 Welcome back! You are logged in. Send your doubts as text or images."
	msgAskLoginPhone    = "Please send your registered phone number."
	msgInvalidPhone     = "❗ That doesn't look like a phone number. Send digits only, e.g. 9000000001."
	msgPhoneNotFound    = "❌ This phone number is not registered. You can sign up instead."
	msgAskPin           = "Enter your 4-digit PIN."
	msgPinFormat        = "❗ The PIN must be exactly 4 digits."
	msgAccessDenied     = "⛔ Access denied. This account belongs to a different Telegram user. Restart with /start."
	msgTooManyAttempts  = "⛔ Too many wrong PIN attempts. Restart with /start to try again."
	msgAskName          = "Let's get you registered. What's your name?"
	msgEmptyName        = "❗ Please send your name as text."
	msgAskSignupPhone   = "Thanks, %s! Now send your phone number. This is your key to log in, so don't share it."
	msgAlreadyExists    = "❗ This phone number is already registered. Restart with /start and choose Login."
	msgAskClass         = "Which class are you in?"
	msgEmptyClass       = "❗ Please send your class as text, e.g. 10."
	msgChooseExams      = "Which exams are you preparing for? Tap to select, then press Done."
	msgExamsChosen      = "Exams selected: %s"
	msgAskNewPin        = "Choose a 4-digit PIN. You'll need it to log in."
	msgSignupComplete   = "✅ You're registered, %s! You can now send your doubts as text or images."
	msgLoggedIn         = "✅ Logged in. Welcome, %s! You can now send your doubts as text or images."
	msgTextRecorded     = "✅ Your text doubt has been recorded! We'll get back to you soon."
	msgImageRecorded    = "✅ Your image doubt has been recorded! We'll get back to you soon."
	msgSendDoubt        = "Send your doubt as text or as an image."
	msgRecordFailed     = "❗ We couldn't record your doubt right now. Please try again in a moment."
	msgAccountMissing   = "❗ Your account could not be found. Please restart with /start."
	msgUseStart         = "❗ Please use /start to log in or sign up first."
	msgStaleButton      = "That button is no longer active."
	msgCancelled        = "Cancelled. You can start again with /start."
	msgNothingToCancel  = "Nothing to cancel. Use /start to begin."
	msgLoggedOut        = "👋 You have been logged out. Use /start to log in again."
	msgNotLoggedIn      = "You are not logged in."
	msgUnknownCommand   = "❗ Sorry, I don't understand that command."
	msgTryLater         = "⚠️ The service is temporarily unavailable. Please try again in a moment."
	msgGenericFailure   = "⚠️ Something went wrong. Please try again."
	msgRestarted        = "🔄 The bot was restarted. You are still logged in and can keep sending doubts."
	msgRevokedTemplate  = "⛔ Your access has been revoked. Contact an admin. Need help? Call 📞 %s"
	msgWrongPinTemplate = "❌ Wrong PIN. %d attempt(s) left."
)

func (m *Machine) msgRevoked() string {
	return fmt.Sprintf(msgRevokedTemplate, m.cfg.SupportPhone)
}

func authKeyboard() Keyboard {
	return Keyboard{{
		{Label: "🔑 Login", Token: tokenLogin},
		{Label: "📝 Sign up", Token: tokenSignup},
	}}
}

func menu(identity, text string) Reply {
	return Reply{Identity: identity, Text: text, Keyboard: authKeyboard()}
}

// examKeyboard renders two tags per row with a check mark on selected ones.
func examKeyboard(s session.Session) Keyboard {
	keyboard := make(Keyboard, 0, len(Exams)/2+2)
	row := make([]Button, 0, 2)
	for _, exam := range Exams {
		label := exam
		if s.HasExam(exam) {
			label = "✅ " + exam
		}
		row = append(row, Button{Label: label, Token: tokenExamPfx + exam})
		if len(row) == 2 {
			keyboard = append(keyboard, row)
			row = make([]Button, 0, 2)
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	return append(keyboard, []Button{{Label: "Done ➡️", Token: tokenExamDone}})
}

// orderedExams returns the selection in catalogue order.
func orderedExams(selected []string) []string {
	out := make([]string, 0, len(selected))
	for _, exam := range Exams {
		for _, tag := range selected {
			if tag == exam {
				out = append(out, exam)
				break
			}
		}
	}
	return out
}

func isExam(tag string) bool {
	for _, exam := range Exams {
		if exam == tag {
			return true
		}
	}
	return false
}

func examSummary(selected []string) string {
	if len(selected) == 0 {
		return "none"
	}
	return strings.Join(orderedExams(selected), ", ")
}
