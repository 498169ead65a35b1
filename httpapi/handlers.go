package httpapi

import (
	"github.com/gofiber/fiber/v2"
	access "github.com/goliatone/go-access"
	"github.com/goliatone/go-access/middleware/csrf"
	"github.com/goliatone/go-access/middleware/sessionware"
	goerrors "github.com/goliatone/go-errors"
)

type validatable interface {
	Validate() error
}

func (a *Controller) bind(c *fiber.Ctx, payload validatable) error {
	if err := c.BodyParser(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request body").
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(goerrors.TextCodeDataParseError)
	}
	return payload.Validate()
}

// RegisterPost creates an unverified principal and mails the verification
// link.
func (a *Controller) RegisterPost(c *fiber.Ctx) error {
	payload := new(RegistrationRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	p, err := a.Accounts.Register(c.UserContext(), payload.Input())
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"principal": p,
		"status":    access.StatusOf(p),
	})
}

func (a *Controller) ResendPost(c *fiber.Ctx) error {
	payload := new(ResendRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	if _, err := a.Accounts.ResendVerification(c.UserContext(), payload.Email); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sent"})
}

func (a *Controller) VerifyGet(c *fiber.Ctx) error {
	p, err := a.Accounts.ConsumeVerification(c.UserContext(), c.Params("token"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{
		"principal": p,
		"status":    access.StatusOf(p),
	})
}

// LoginPost opens a session and sets the session cookie. Without
// remember_me the cookie lives for the browser session only.
func (a *Controller) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	session, p, err := a.Sessions.SignIn(c.UserContext(), payload.Identifier, payload.Password, payload.RememberMe)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	cookie := &fiber.Cookie{
		Name:     a.Cookie.Name,
		Value:    session.ID,
		Path:     "/",
		HTTPOnly: true,
		Secure:   a.Cookie.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if payload.RememberMe {
		cookie.Expires = a.now().Add(a.Cookie.RememberFor)
	} else {
		cookie.SessionOnly = true
	}
	c.Cookie(cookie)

	return c.JSON(fiber.Map{
		"principal": p,
		"session":   session,
	})
}

// LogoutPost destroys the presented session, if any, and clears the cookie.
func (a *Controller) LogoutPost(c *fiber.Ctx) error {
	extractors := sessionware.GetExtractors(a.tokenLookup(), "Bearer")
	if id, err := sessionware.ExtractSessionID(c, extractors); err == nil {
		if err := a.Sessions.Logout(c.UserContext(), id); err != nil {
			return a.ErrorHandler(c, err)
		}
	}
	c.ClearCookie(a.Cookie.Name)
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *Controller) MeGet(c *fiber.Ctx) error {
	p, _ := sessionware.Principal(c)
	s, _ := sessionware.Session(c)
	return c.JSON(fiber.Map{
		"principal": p,
		"session":   s,
		"status":    access.StatusOf(p),
	})
}

// CSRFGet returns the token the guard issued for this session.
func (a *Controller) CSRFGet(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"token": csrf.Token(c)})
}

func (a *Controller) PasswordPost(c *fiber.Ctx) error {
	payload := new(PasswordChangeRequest)
	if err := a.bind(c, payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	p, _ := sessionware.Principal(c)
	if err := a.Accounts.ChangePassword(c.UserContext(), p.ID, payload.Current, payload.Password); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MenuGet renders the menu visible to the caller. Anonymous callers see
// public entries only.
func (a *Controller) MenuGet(c *fiber.Ctx) error {
	p, _ := sessionware.Principal(c)
	return c.JSON(fiber.Map{"menu": a.Catalog.Menu(p)})
}

func (a *Controller) ResourceAccessGet(c *fiber.Ctx) error {
	name := c.Params("name")
	if _, ok := a.Catalog.Lookup(name); !ok {
		return a.ErrorHandler(c, access.ErrResourceNotFound)
	}

	p, _ := sessionware.Principal(c)
	allowed := a.Catalog.Allowed(name, p)
	status := fiber.StatusOK
	if !allowed {
		status = fiber.StatusForbidden
	}
	return c.Status(status).JSON(fiber.Map{
		"resource": name,
		"allowed":  allowed,
	})
}
