package user

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/notification"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrAlreadyActive  = errors.New("user is already active")

	errInvalidValue = "invalid value"
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists; excludeID skips the user being updated.
		CheckUniqueness(ctx context.Context, username, email, excludeID string, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		CountUsers(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) (int, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		SetLastLogin(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) error
		// AdminIDs lists active admins.
		AdminIDs(ctx context.Context, exec ...core.DBExecutor) ([]string, error)
	}

	ServiceInterface interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Signup(ctx context.Context, su Signup) (User, error)
		Approve(ctx context.Context, usr User) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		Count(ctx context.Context, filter *QueryFilter) (int, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Delete(ctx context.Context, ids ...string) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
	}

	service struct {
		conf     *core.Config
		repo     Repository
		notifSvc notification.ServiceInterface
		mailSvc  core.EmailService
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	conf *core.Config,
	repo Repository,
	notifSvc notification.ServiceInterface,
	mailSvc core.EmailService,
) ServiceInterface {
	return &service{
		conf:     conf,
		repo:     repo,
		notifSvc: notifSvc,
		mailSvc:  mailSvc,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	var excludeID string
	if len(exclUsers) > 0 {
		excludeID = exclUsers[0].ID
	}
	if err := svc.repo.CheckUniqueness(ctx, uname, email, excludeID); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := svc.CheckUniqueness(ctx, nu.Username, nu.Email); err != nil {
		return User{}, err
	}

	now := core.UTCNow()
	roles := nu.Roles
	if len(roles) == 0 {
		roles = []string{RoleStudent}
	}
	usr := User{
		ID:        uuid.NewString(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Signup registers a student account pending approval.
// Emails on the admin allowlist are activated right away with the admin role.
func (svc *service) Signup(ctx context.Context, su Signup) (User, error) {
	if err := svc.CheckUniqueness(ctx, "", su.Email); err != nil {
		return User{}, err
	}

	now := core.UTCNow()
	usr := User{
		ID:        uuid.NewString(),
		Name:      su.Name,
		Email:     su.Email,
		Roles:     []string{RoleStudent},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if svc.conf.IsAdminEmail(su.Email) {
		usr.IsActive = true
		usr.Roles = []string{RoleAdmin, RoleStudent}
	}
	if err := usr.SetPassword(su.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	if !usr.IsActive {
		if err := svc.notifSvc.NotifyAdmins(ctx, notification.NewNotification{
			Type:    notification.TypeSignupPending,
			Title:   "New account awaiting approval",
			Message: fmt.Sprintf("%s (%s) signed up and is waiting for approval.", usr.DisplayName(), usr.Email),
			Link:    "/admin/users?is_active=false",
		}); err != nil {
			return User{}, errors.Wrap(err, "notifying admins")
		}
	}
	return usr, nil
}

// Approve activates a pending account, then notifies and emails its owner.
func (svc *service) Approve(ctx context.Context, usr User) (User, error) {
	if usr.IsActive {
		return User{}, core.NewValidationError(ErrAlreadyActive)
	}
	usr.IsActive = true
	if !usr.IsAdmin() {
		usr.AddRole(RoleStudent)
	}
	usr.UpdatedAt = core.UTCNow()

	usr, err := svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "activating user")
	}

	if _, err := svc.notifSvc.Notify(ctx, notification.NewNotification{
		UserID:  usr.ID,
		Type:    notification.TypeAccountApproved,
		Title:   "Your account has been approved",
		Message: "Welcome aboard! You can now request access to courses.",
		Link:    "/courses",
	}); err != nil {
		return User{}, errors.Wrap(err, "notifying user")
	}
	svc.sendAccountApprovedMail(usr)
	return usr, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *service) Count(ctx context.Context, filter *QueryFilter) (int, error) {
	return svc.repo.CountUsers(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{uname, uname}})
}

func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	if err := svc.CheckUniqueness(ctx, uu.Username, uu.Email, usr); err != nil {
		return User{}, err
	}

	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = core.UTCNow()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin.SetValid(core.UTCNow())
	return svc.repo.SetLastLogin(ctx, usr)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return errors.Wrap(err, "finding user by email")
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	token, err := MakeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making password reset token")
	}
	svc.sendPasswordResetMail(usr, token)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	uid, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "uid", Error: errInvalidValue})
	}
	if _, err := uuid.Parse(uid); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "uid", Error: errInvalidValue})
	}

	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: uid})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(err, core.FieldError{Field: "uid", Error: errInvalidValue})
		}
		return errors.Wrap(err, "finding user by ID")
	}

	if err := verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "token", Error: errInvalidValue})
	}

	if err := usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = core.UTCNow()
	if _, err := svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	return nil
}

func (svc *service) sendPasswordResetMail(usr User, token string) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name": usr.DisplayName(),
			"Path": fmt.Sprintf("/password-reset/%s/%s", EncodeUID(usr), token),
		},
	})
}

func (svc *service) sendAccountApprovedMail(usr User) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
		Subject:      "Your account is ready",
		TemplateName: "account_approved",
		TemplateData: map[string]interface{}{"Name": usr.DisplayName()},
	})
}
