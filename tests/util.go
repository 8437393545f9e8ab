// Package testutil wires the services over the in-memory store for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/luxaar/luxaar/core"
	"github.com/luxaar/luxaar/core/aichat"
	"github.com/luxaar/luxaar/core/course"
	"github.com/luxaar/luxaar/core/enrollment"
	"github.com/luxaar/luxaar/core/notification"
	"github.com/luxaar/luxaar/core/progress"
	"github.com/luxaar/luxaar/core/support"
	"github.com/luxaar/luxaar/core/user"
	"github.com/luxaar/luxaar/fs"
	"github.com/luxaar/luxaar/services/email"
	"github.com/luxaar/luxaar/services/pubsub"
	"github.com/luxaar/luxaar/storage/database/inmem"
)

const DefaultPassword = "Tr1cky-Pa55phrase"

type Env struct {
	Conf       *core.Config
	Validate   *validator.Validate
	Translator ut.Translator
	DB         *inmemdb.DB
	Broker     *pubsub.MemoryBroker
	MailSvc    core.EmailService

	UserRepo   user.Repository
	CourseRepo course.Repository
	EnrollRepo enrollment.Repository

	UserSvc     user.ServiceInterface
	NotifSvc    notification.ServiceInterface
	CourseSvc   course.ServiceInterface
	EnrollSvc   enrollment.ServiceInterface
	ProgressSvc progress.ServiceInterface
	SupportSvc  support.ServiceInterface
	AIChatSvc   aichat.ServiceInterface
}

// NewEnv builds every service on a fresh in-memory store. AI providers are optional.
func NewEnv(t *testing.T, providers ...aichat.Provider) *Env {
	t.Helper()
	emailsvc.ResetSentMessages()

	conf := *core.Conf
	conf.TestMode = true
	conf.AdminEmails = []string{"owner@luxaar.test"}

	logger := core.NopLogger{}
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswords, logger)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)

	db := inmemdb.Open()
	tx := inmemdb.NewTxRunner()
	env := &Env{
		Conf:       &conf,
		Validate:   validate,
		Translator: translator,
		DB:         db,
		Broker:     pubsub.NewMemoryBroker(),
		MailSvc:    emailsvc.NewConsoleServiceMock(),
		UserRepo:   inmemdb.NewUserRepository(db),
		CourseRepo: inmemdb.NewCourseRepository(db),
		EnrollRepo: inmemdb.NewEnrollmentRepository(db),
	}

	env.NotifSvc = notification.NewService(inmemdb.NewNotificationRepository(db), env.Broker, env.UserRepo, validate, logger)
	env.UserSvc = user.NewService(env.Conf, env.UserRepo, env.NotifSvc, env.MailSvc)
	env.CourseSvc = course.NewService(env.CourseRepo, tx, validate)
	env.EnrollSvc = enrollment.NewService(env.EnrollRepo, tx, env.CourseSvc, env.UserSvc, env.NotifSvc, env.MailSvc, validate)
	env.ProgressSvc = progress.NewService(inmemdb.NewProgressRepository(db), tx, env.CourseSvc, env.EnrollSvc, env.NotifSvc, validate)
	env.SupportSvc = support.NewService(inmemdb.NewSupportRepository(db), tx, env.UserSvc, env.NotifSvc, env.MailSvc, validate)

	chatRepo := inmemdb.NewChatRepository(db)
	env.AIChatSvc = aichat.NewService(env.Conf, chatRepo, chatRepo, aichat.NewRouter(nil, providers...), nil, validate, logger)
	return env
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func (env *Env) Admin(t *testing.T, uname string) user.User {
	t.Helper()
	return CreateUser(t, env.UserRepo, "Admin "+uname, uname, uname+"@luxaar.test", DefaultPassword,
		[]string{user.RoleAdmin}, true)
}

func (env *Env) Student(t *testing.T, uname string) user.User {
	t.Helper()
	return CreateUser(t, env.UserRepo, "Student "+uname, uname, uname+"@luxaar.test", DefaultPassword,
		[]string{user.RoleStudent}, true)
}

// CourseWithLessons creates a published course with one module per entry of lessonsPerModule;
// lessons are text lessons unless videoDuration > 0.
func (env *Env) CourseWithLessons(t *testing.T, createdBy string, videoDuration float64, lessonsPerModule ...int) (course.Course, []course.Lesson) {
	t.Helper()
	ctx := context.Background()
	c, err := env.CourseSvc.Create(ctx, course.NewCourse{
		Title:       "Concurrency in Go",
		Description: "Goroutines, channels and friends",
		Category:    "programming",
		Level:       course.LevelBeginner,
		Instructor:  "Rob",
		IsPublished: true,
	}, createdBy)
	if err != nil {
		t.Fatalf("CourseWithLessons() failed: %v", err)
	}

	var lessons []course.Lesson
	for mi, n := range lessonsPerModule {
		m, err := env.CourseSvc.CreateModule(ctx, c.ID, course.NewModule{Title: "Module " + string(rune('A'+mi))})
		if err != nil {
			t.Fatalf("CourseWithLessons() failed: %v", err)
		}
		for li := 0; li < n; li++ {
			nl := course.NewLesson{Title: m.Title + " lesson " + string(rune('1'+li)), ContentType: course.ContentText, Content: "Read me."}
			if videoDuration > 0 {
				nl = course.NewLesson{
					Title:           m.Title + " video " + string(rune('1'+li)),
					ContentType:     course.ContentVideo,
					VideoURL:        "https://videos.luxaar.test/" + m.ID + ".mp4",
					DurationSeconds: videoDuration,
				}
			}
			l, err := env.CourseSvc.CreateLesson(ctx, m.ID, nl)
			if err != nil {
				t.Fatalf("CourseWithLessons() failed: %v", err)
			}
			lessons = append(lessons, l)
		}
	}
	return c, lessons
}

// Enroll enrolls usr directly.
func (env *Env) Enroll(t *testing.T, usr user.User, courseID string) enrollment.Enrollment {
	t.Helper()
	enr, err := env.EnrollSvc.Enroll(context.Background(), enrollment.NewEnrollment{UserID: usr.ID, CourseID: courseID})
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	return enr
}
