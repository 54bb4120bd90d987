package workflows

import (
	"errors"
	"regexp"
	"strings"

	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/state"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/template"
)

// Account workflow nodes.
const (
	nodeSigninForm flowgraph.NodeID = "send_login_form"
	nodeSignupForm flowgraph.NodeID = "send_signup_form"

	nodeExtractCredentials flowgraph.NodeID = "extract_login_credentials"
	nodeFindUser           flowgraph.NodeID = "get_user_by_email"
	nodeLogin              flowgraph.NodeID = "login_with_credentials"
	nodeNoUser             flowgraph.NodeID = "handle_no_user_exists"

	nodeExtractSignup flowgraph.NodeID = "extract_signup_details"
	nodeCreateUser    flowgraph.NodeID = "save_user_details"
)

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	passwordPattern = regexp.MustCompile(`(?i)password\s*(?:is)?\s*[:=]?\s*(\S+)`)
)

var signinFormPrompt = template.Prompt{
	Name: "send_login_form",
	System: `You are part of a helpful chatbot assistant in an e-commerce system.
The user wants to sign in. A sign-in form is shown next to the chat window.
Write one short, friendly sentence inviting them to enter their email and password in the form.
Do not ask them to visit another page.`,
	User: "{query}",
}

var signupFormPrompt = template.Prompt{
	Name: "send_signup_form",
	System: `You are part of a helpful chatbot assistant in an e-commerce system.
The user wants to create an account. A sign-up form is shown next to the chat window.
Write one short, friendly sentence inviting them to fill in their details in the form.
Do not ask them to visit another page.`,
	User: "{query}",
}

var extractCredentialsPrompt = template.Prompt{
	Name: "extract_login_credentials",
	System: `You are a login credentials extractor. Extract the email and password from the user's message.
Return a JSON object with fields: email, password. Leave a field empty if it is missing.`,
	User: "{query}",
}

var loginReplyPrompt = template.Prompt{
	Name: "login_reply",
	System: `You are an e-commerce system. Write one short, friendly sentence for the situation below.
Do not use technical words like query, results or response.
Never repeat the email or password back to the user.`,
	User: "{situation}",
}

var extractSignupPrompt = template.Prompt{
	Name: "extract_signup_details",
	System: `You are a signup details extractor. Extract the email, password, first name, last name and phone number from the user's message.
Return a JSON object with fields: email, password, first_name, last_name, phone. Leave a field empty if it is missing.`,
	User: "{query}",
}

var signupReplyPrompt = template.Prompt{
	Name: "signup_reply",
	System: `You are an e-commerce system. Write one short, friendly sentence for the situation below.
Do not use technical words like query, results or response. Do not use exclamation marks.
The sign-in form is shown next to the chat window, so do not ask the user to visit another page.`,
	User: "{situation}",
}

// generate_signin_form and generate_signup_form

func buildSigninForm(d Deps) (flowgraph.NodeFunc[state.State], error) {
	g := flowgraph.NewGraph[state.SigninFormState]().
		AddNode(nodeSigninForm, func(ctx flowgraph.Context, s state.SigninFormState) (state.SigninFormState, error) {
			err := sendForm(ctx, d.Model, &s.Common, signinFormPrompt, state.WidgetLoginForm,
				"Please enter your email and password in the sign-in form to continue.")
			return s, err
		}).
		AddEdge(nodeSigninForm, flowgraph.END).
		SetEntry(nodeSigninForm)
	return mount(g, projection[state.SigninFormState]())
}

func buildSignupForm(d Deps) (flowgraph.NodeFunc[state.State], error) {
	g := flowgraph.NewGraph[state.SignupFormState]().
		AddNode(nodeSignupForm, func(ctx flowgraph.Context, s state.SignupFormState) (state.SignupFormState, error) {
			err := sendForm(ctx, d.Model, &s.Common, signupFormPrompt, state.WidgetSignupForm,
				"Please fill in your details in the sign-up form to create your account.")
			return s, err
		}).
		AddEdge(nodeSignupForm, flowgraph.END).
		SetEntry(nodeSignupForm)
	return mount(g, projection[state.SignupFormState]())
}

// sendForm writes the invitation text and a form widget whose payload is
// that text.
func sendForm(ctx flowgraph.Context, m *model.Model, c *state.Common, p template.Prompt, kind, fallback string) error {
	msg := m.TextOr(ctx, p, map[string]any{"query": c.Query}, fallback)
	c.OutputText = msg
	c.Suggestions = []string{msg}
	return setWidget(c, kind, []string{msg})
}

// login_with_credentials

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// scanCredentials pulls an e-mail and password out of free text.
func scanCredentials(text string) credentials {
	var c credentials
	c.Email = emailPattern.FindString(text)
	if m := passwordPattern.FindStringSubmatch(text); m != nil {
		c.Password = m[1]
	}
	return c
}

type account struct {
	model    *model.Model
	accounts commerce.Accounts
	issuer   auth.Issuer
	hasher   auth.Hasher
}

func buildLogin(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &account{model: d.Model, accounts: d.Store, issuer: d.Issuer, hasher: d.Hasher}
	g := flowgraph.NewGraph[state.LoginState]().
		AddNode(nodeExtractCredentials, w.extractCredentials).
		AddNode(nodeFindUser, w.findUser).
		AddNode(nodeLogin, w.login).
		AddNode(nodeNoUser, w.noUser).
		AddEdge(nodeExtractCredentials, nodeFindUser).
		AddConditionalEdge(nodeFindUser, routeCredentials, nodeLogin, nodeNoUser, flowgraph.END).
		AddEdge(nodeLogin, flowgraph.END).
		AddEdge(nodeNoUser, flowgraph.END).
		SetEntry(nodeExtractCredentials)
	return mount(g, loginProjection())
}

// loginProjection promotes a successful login to the thread's identity.
func loginProjection() flowgraph.Projection[state.State, state.LoginState] {
	base := projection[state.LoginState]()
	return flowgraph.Projection[state.State, state.LoginState]{
		In: base.In,
		Out: func(p state.State, c state.LoginState) state.State {
			p = base.Out(p, c)
			if c.Outcome == state.LoginSucceeded && c.User != nil {
				p.IsAuthenticated = true
				p.UserID = c.User.ID
				p.AuthRequired = false
			}
			return p
		},
	}
}

func (w *account) extractCredentials(ctx flowgraph.Context, s state.LoginState) (state.LoginState, error) {
	creds, err := model.JSON[credentials](ctx, w.model, extractCredentialsPrompt, map[string]any{"query": s.Query})
	if err != nil {
		if !errors.Is(err, model.ErrUnavailable) {
			ctx.Logger().Warn("credential extraction failed, scanning message", "err", err)
		}
		creds = scanCredentials(s.Query)
	}
	s.Email = strings.TrimSpace(creds.Email)
	s.Password = creds.Password
	s.User = nil
	s.Outcome = ""
	s.Token = ""
	return s, nil
}

func (w *account) findUser(ctx flowgraph.Context, s state.LoginState) (state.LoginState, error) {
	if s.Email == "" || s.Password == "" {
		s.Outcome = state.LoginMissingCredentials
		return s, nil
	}
	u, err := w.accounts.UserByEmail(ctx, s.Email)
	switch {
	case errors.Is(err, commerce.ErrNotFound):
		s.Outcome = state.LoginUserNotFound
	case err != nil:
		s.Fail(state.NewError(state.LoginWithCredentials, state.KindStorage, "login_unavailable",
			"Sign-in is unavailable right now").WithCause(err))
	default:
		s.User = &u
	}
	return s, nil
}

func routeCredentials(_ flowgraph.Context, s state.LoginState) flowgraph.NodeID {
	switch {
	case s.Error != nil:
		return flowgraph.END
	case s.User != nil:
		return nodeLogin
	default:
		return nodeNoUser
	}
}

func (w *account) login(ctx flowgraph.Context, s state.LoginState) (state.LoginState, error) {
	password := s.Password
	s.Password = ""

	if err := w.hasher.Compare(s.User.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			ctx.Logger().Warn("password check failed", "err", err)
		}
		s.Outcome = state.LoginInvalidPassword
		msg := w.model.TextOr(ctx, loginReplyPrompt, map[string]any{
			"situation": "The password the user entered is incorrect. Suggest they try again or reset their password.",
		}, "That password doesn't match our records. Please try again or reset your password.")
		s.OutputText = msg
		s.Suggestions = []string{msg}
		return s, setWidget(&s.Common, state.WidgetLoginFailure, map[string]any{
			"message": msg,
			"reason":  state.LoginInvalidPassword,
		})
	}

	token, err := w.issuer.Issue(s.User.ID)
	if err != nil {
		s.Fail(state.NewError(state.LoginWithCredentials, state.KindAuthentication, "token_issue_failed",
			"I couldn't sign you in right now").WithCause(err))
		return s, nil
	}
	s.Token = token
	s.Outcome = state.LoginSucceeded
	ctx.Logger().Info("user signed in", "user_id", s.User.ID)

	msg := w.model.TextOr(ctx, loginReplyPrompt, map[string]any{
		"situation": "The user signed in successfully. Welcome them back and suggest they start browsing.",
	}, "Welcome back! You're signed in, so feel free to start browsing.")
	s.OutputText = msg
	s.Suggestions = []string{msg}
	return s, setWidget(&s.Common, state.WidgetLoginSuccess, map[string]any{
		"message": msg,
		"user": map[string]any{
			"id":         s.User.ID,
			"email":      s.User.Email,
			"first_name": s.User.FirstName,
			"last_name":  s.User.LastName,
		},
		"jwt_token": token,
	})
}

func (w *account) noUser(ctx flowgraph.Context, s state.LoginState) (state.LoginState, error) {
	s.Password = ""

	situation := "No account exists for the email the user gave. Suggest they sign up for an account."
	fallback := "I couldn't find an account with those details. You can sign up for a new account or try again."
	if s.Outcome == state.LoginMissingCredentials {
		situation = "The user tried to sign in but did not give both an email and a password. Ask for both."
		fallback = "Please provide both your email and password to sign in."
	}

	msg := w.model.TextOr(ctx, loginReplyPrompt, map[string]any{"situation": situation}, fallback)
	s.OutputText = msg
	s.Suggestions = []string{msg}
	return s, setWidget(&s.Common, state.WidgetLoginFailure, map[string]any{
		"message": msg,
		"reason":  s.Outcome,
	})
}

// signup_with_details

// Signup failure reasons.
const (
	signupMissingFields = "missing_fields"
	signupEmailInUse    = "email_in_use"
	signupFailed        = "signup_failed"
)

// signupFields mirrors state.SignupDetails with the password decodable.
type signupFields struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func buildSignup(d Deps) (flowgraph.NodeFunc[state.State], error) {
	w := &account{model: d.Model, accounts: d.Store, issuer: d.Issuer, hasher: d.Hasher}
	g := flowgraph.NewGraph[state.SignupState]().
		AddNode(nodeExtractSignup, w.extractSignup).
		AddNode(nodeCreateUser, w.createUser).
		AddConditionalEdge(nodeExtractSignup, orEnd[state.SignupState](nodeCreateUser), nodeCreateUser, flowgraph.END).
		AddEdge(nodeCreateUser, flowgraph.END).
		SetEntry(nodeExtractSignup)
	return mount(g, projection[state.SignupState]())
}

func (w *account) extractSignup(ctx flowgraph.Context, s state.SignupState) (state.SignupState, error) {
	f, err := model.JSON[signupFields](ctx, w.model, extractSignupPrompt, map[string]any{"query": s.Query})
	if err != nil {
		s.Fail(state.FromCollaborator(state.SignupWithDetails, "extraction_failed",
			"I couldn't read your sign-up details", err))
		return s, nil
	}
	s.Details = state.SignupDetails{
		Email:     strings.TrimSpace(f.Email),
		Password:  f.Password,
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
		Phone:     strings.TrimSpace(f.Phone),
	}
	s.CreatedID = 0
	return s, nil
}

func (d signupFields) missing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"email", d.Email},
		{"password", d.Password},
		{"first_name", d.FirstName},
		{"last_name", d.LastName},
		{"phone", d.Phone},
	} {
		if f.v == "" {
			out = append(out, f.name)
		}
	}
	return out
}

func (w *account) createUser(ctx flowgraph.Context, s state.SignupState) (state.SignupState, error) {
	details := s.Details
	s.Details.Password = ""

	if missing := signupFields(details).missing(); len(missing) > 0 {
		return s, w.signupFailure(ctx, &s.Common, signupMissingFields,
			"The user's sign-up is missing: "+strings.Join(missing, ", ")+". Ask them to provide it.",
			"I need your email, password, first name, last name and phone number to create your account.")
	}

	hash, err := w.hasher.Hash(details.Password)
	if err != nil {
		return s, err
	}
	u, err := w.accounts.CreateUser(ctx, commerce.NewUser{
		Email:        details.Email,
		PasswordHash: hash,
		FirstName:    details.FirstName,
		LastName:     details.LastName,
		Phone:        details.Phone,
	})
	switch {
	case errors.Is(err, commerce.ErrDuplicateEmail):
		return s, w.signupFailure(ctx, &s.Common, signupEmailInUse,
			"The sign-up failed because the email is already in use. Suggest signing in instead.",
			"That email is already in use. Please sign in instead or use a different email.")
	case err != nil:
		ctx.Logger().Error("create user failed", "err", err)
		return s, w.signupFailure(ctx, &s.Common, signupFailed,
			"The sign-up failed because of a technical issue. Suggest trying again later.",
			"I couldn't create your account right now. Please try again later.")
	}

	s.CreatedID = u.ID
	ctx.Logger().Info("user signed up", "user_id", u.ID)

	msg := w.model.TextOr(ctx, signupReplyPrompt, map[string]any{
		"situation": "The user has been signed up successfully. Tell them they can now sign in to their account.",
	}, "Your account has been created. You can now sign in to your account.")
	s.OutputText = msg
	s.Suggestions = []string{msg}
	return s, setWidget(&s.Common, state.WidgetSignupSuccess, map[string]any{"message": msg})
}

func (w *account) signupFailure(ctx flowgraph.Context, c *state.Common, reason, situation, fallback string) error {
	msg := w.model.TextOr(ctx, signupReplyPrompt, map[string]any{"situation": situation}, fallback)
	c.OutputText = msg
	c.Suggestions = []string{msg}
	return setWidget(c, state.WidgetSignupFailure, map[string]any{
		"message": msg,
		"reason":  reason,
	})
}
