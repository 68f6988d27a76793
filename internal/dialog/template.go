package dialog

import (
	"regexp"
	"strings"

	"github.com/tutorlinkhq/tutorbot/internal/models"
)

// placeholderPattern matches {key} placeholders in reply templates.
var placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// Render substitutes {key} placeholders in template from vars. A key
// present in vars is replaced by its value (possibly empty); a
// placeholder with no entry in vars is left as literal text. Render
// never fails and performs no escaping; platform formatting is the
// transport layer's concern.
func Render(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.Trim(match, "{}")
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// Reply templates. Personalization comes from the profile snapshot via
// {name}; {bot_name} is the configured bot display name.
const (
	tmplWelcomeNew = "Hi, I'm {bot_name}, the assistant of our tutoring service! 📚\n" +
		"Are you a new student? Reply \"register\" to sign up, or \"menu\" to look around."
	tmplWelcomeBack = "Welcome back, {name}! 👋 What would you like to do today?"
	tmplMenuNew     = "Here's what I can do for you:"
	tmplMenuKnown   = "Here's what I can do for you, {name}:"

	tmplFallback = "Sorry, I didn't understand that. 🤔 You can always type \"menu\" to see your options."

	tmplRegisterStart  = "Great, let's get you registered! What's your full name?"
	tmplRegisterEmail  = "Thanks, {name}! What's your email address?"
	tmplRegisterClass  = "Almost done. Which class/grade are you in? (e.g. 10A)"
	tmplRegisterDone   = "You're all set, {name}! 🎉 Your registration has been recorded."
	tmplAlreadyMember  = "You're already registered as {name}. Which detail would you like to update: name, email or class?"
	tmplUpdateName     = "Sure — what's your new full name?"
	tmplUpdateEmail    = "Sure — what's your new email address?"
	tmplUpdateClass    = "Sure — which class/grade are you in now?"
	tmplUpdateDone     = "Done! Your details have been updated."
	tmplUpdateUnknown  = "Please reply with one of: name, email or class — or \"cancel\" to go back."
	tmplRegisterNeeded = "You need to be registered first. Reply \"register\" to sign up!"

	tmplHomeworkSubject = "Let's submit your homework. 📝 Which subject is it for?"
	tmplHomeworkType    = "Got it — {subject}. What type of work is it? (essay, exercises, project...)"
	tmplHomeworkContent = "Now send me the homework itself (paste the text of your work)."
	tmplHomeworkDone    = "Homework received! ✅ Your tutor will review it and get back to you."

	tmplPaymentPending = "Your monthly subscription is {price}. Please transfer to:\n{payment_details}\n" +
		"Then reply here with your transfer reference number."
	tmplPaymentDone = "Thanks! We've recorded reference {reference}. Your payment will be verified shortly. 💳"

	tmplFaq = "Frequently asked questions:\n" +
		"• Sessions run Mon–Sat, 15:00–20:00.\n" +
		"• The monthly subscription is {price}, all subjects included.\n" +
		"• Homework feedback arrives within 48 hours.\n" +
		"• Type \"chat\" any time to talk to a real person."

	tmplSupportGreeting = "You're now connected to our support team, {name}. 💬 " +
		"An admin will reply here shortly. Type \"end chat\" when you're done."
	tmplChatAck     = "✉️ Message passed on to the team."
	tmplChatClosed  = "Chat ended after {duration}. Thanks for reaching out!"
	tmplAdminClosed = "The support team has closed this chat. Thanks for reaching out!"

	tmplCancelled = "No problem, I've cancelled that. What else can I do for you?"
)

// Button identifiers double as classifiable keywords, so a user can type
// either the number or the word.
const (
	buttonRegister = "register"
	buttonHomework = "homework"
	buttonPayment  = "payment"
	buttonFaq      = "faq"
	buttonSupport  = "chat"
	buttonMenu     = "menu"
	buttonEndChat  = "end chat"
	buttonCancel   = "cancel"
	buttonName     = "name"
	buttonEmail    = "email"
	buttonClass    = "class"
)

// menuButtons returns the main-menu button set. Registered and new users
// share the same state machine; only the offered options differ.
func menuButtons(registered bool) []models.Button {
	if registered {
		return []models.Button{
			{ID: buttonHomework, Label: "Submit homework"},
			{ID: buttonPayment, Label: "Pay subscription"},
			{ID: buttonFaq, Label: "FAQ"},
			{ID: buttonSupport, Label: "Chat with us"},
		}
	}
	return []models.Button{
		{ID: buttonRegister, Label: "Register"},
		{ID: buttonFaq, Label: "FAQ"},
		{ID: buttonSupport, Label: "Chat with us"},
	}
}

// escapeButtons is the minimal fallback escape offered on unrecognized input.
func escapeButtons() []models.Button {
	return []models.Button{{ID: buttonMenu, Label: "Main menu"}}
}

func identifyButtons() []models.Button {
	return []models.Button{
		{ID: buttonRegister, Label: "Register"},
		{ID: buttonMenu, Label: "Main menu"},
	}
}

func updateChoiceButtons() []models.Button {
	return []models.Button{
		{ID: buttonName, Label: "Name"},
		{ID: buttonEmail, Label: "Email"},
		{ID: buttonClass, Label: "Class"},
		{ID: buttonMenu, Label: "Main menu"},
	}
}

func cancelButtons() []models.Button {
	return []models.Button{{ID: buttonCancel, Label: "Cancel"}}
}

func endChatButtons() []models.Button {
	return []models.Button{{ID: buttonEndChat, Label: "End chat"}}
}
