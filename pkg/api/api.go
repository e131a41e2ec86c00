package api

import (
	"errors"
	"fmt"
	"html/template"
	"net"
	"sync"
	"time"

	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/store"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultReplyTimeout    = 5 * time.Second
	defaultShutdownTimeout = 2 * time.Second

	msgMissingParams = "Missing required configuration parameters."
	msgSaveFailed    = "Failed to save configuration."
	msgBusy          = "Device busy, please retry."
	msgSaved         = "Configuration saved. The device will now connect to the configured network."
)

// Submission results, as passed to the result handler
const (
	ResultInvalid = "invalid"
	ResultSaved   = "saved"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
)

// Form fields of a configuration submission
const (
	FieldNetworkName     = "ssid"
	FieldNetworkPassword = "pass"
	FieldAccountEmail    = "fb_email"
	FieldAccountSecret   = "fb_pass"
	FieldFriendlyName    = "dev_name"
)

// ErrPortalRunning denotes an attempt to start an already running portal
var ErrPortalRunning = errors.New("provisioning portal already running")

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>LPG Monitor Setup</title></head>
<body>
<h1>LPG Monitor Setup</h1>
<p>Device ID: <b>{{.DeviceID}}</b></p>
<p>Access point address: <b>{{.Addr}}</b></p>
<p>Use the mobile app to submit the configuration to <code>/save_config</code>.</p>
</body>
</html>
`))

// Response denotes the JSON body returned for configuration submissions
type Response struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	DeviceID string `json:"deviceId,omitempty"`
}

// Submission denotes a validated configuration submission awaiting the main
// loop. The loop must call Reply exactly once
type Submission struct {
	Record store.ProvisioningRecord
	reply  chan error
}

// Reply reports the outcome of persisting the submission back to the waiting
// HTTP handler
func (s Submission) Reply(err error) {
	select {
	case s.reply <- err:
	default:
	}
}

// Server denotes the provisioning HTTP server served while in access point mode
type Server struct {
	deviceID     string
	replyTimeout time.Duration
	submissions  chan Submission
	onResult     func(result string)

	app     *fiber.App
	addr    string
	running bool

	logger logging.Logger

	mu sync.Mutex
}

// New instantiates a new provisioning server for the given device, executing
// functional options, if any
func New(deviceID string, options ...func(*Server)) *Server {

	s := &Server{
		deviceID:     deviceID,
		replyTimeout: defaultReplyTimeout,
		submissions:  make(chan Submission, 1),
		logger:       &logging.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}

	s.app = s.newApp()

	return s
}

// App returns the underlying fiber app (e.g. for testing)
func (s *Server) App() *fiber.App {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.app
}

// Running returns if the server is currently listening
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Start binds to addr and starts to serve in the background. Bind errors are
// returned synchronously
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrPortalRunning
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// A fiber app cannot be restarted after shutdown, hence each start uses a
	// fresh one
	s.app = s.newApp()
	s.addr = ln.Addr().String()
	if host, _, err := net.SplitHostPort(s.addr); err == nil {
		s.addr = host
	}
	s.running = true

	// Start to listen in goroutine
	go func(app *fiber.App) {
		if err := app.Listener(ln); err != nil {
			s.logger.Errorf("provisioning portal stopped serving: %s", err)
		}
	}(s.app)

	s.logger.Infof("provisioning portal listening on %s", ln.Addr())

	return nil
}

// Stop shuts the server down, waiting for in-flight responses to be flushed
func (s *Server) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	app := s.app
	s.mu.Unlock()

	return app.ShutdownWithTimeout(defaultShutdownTimeout)
}

// Poll returns a pending submission, if any, without blocking
func (s *Server) Poll() (Submission, bool) {
	select {
	case sub := <-s.submissions:
		return sub, true
	default:
		return Submission{}, false
	}
}

////////////////////////////////////////////////////////////////////////////////

func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lpgmon-provisioning",
		DisableStartupMessage: true,
	})

	// Setup routes
	app.Get("/", s.handleIndex())
	app.Post("/save_config", s.handleSaveConfig())

	// Anything else
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).SendString("Not found")
	})

	return app
}

func (s *Server) handleIndex() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		s.mu.Lock()
		addr := s.addr
		s.mu.Unlock()

		c.Type("html", "utf-8")
		return indexTemplate.Execute(c, struct {
			DeviceID string
			Addr     string
		}{
			DeviceID: s.deviceID,
			Addr:     addr,
		})
	}
}

func (s *Server) handleSaveConfig() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var (
			rec     store.ProvisioningRecord
			missing []string
		)
		for _, field := range []struct {
			name   string
			target *string
		}{
			{FieldNetworkName, &rec.NetworkName},
			{FieldNetworkPassword, &rec.NetworkPassword},
			{FieldAccountEmail, &rec.AccountEmail},
			{FieldAccountSecret, &rec.AccountSecret},
			{FieldFriendlyName, &rec.FriendlyName},
		} {
			v, ok := formValue(c, field.name)
			if !ok {
				missing = append(missing, field.name)
				continue
			}
			*field.target = v
		}

		if len(missing) > 0 {
			s.logger.Warnf("rejecting configuration submission, missing fields: %v", missing)
			s.result(ResultInvalid)
			return c.Status(fiber.StatusBadRequest).JSON(Response{
				Status:  "error",
				Message: msgMissingParams,
			})
		}

		// Hand the submission over to the main loop and wait for it to be persisted
		sub := Submission{
			Record: rec,
			reply:  make(chan error, 1),
		}
		deadline := time.NewTimer(s.replyTimeout)
		defer deadline.Stop()

		select {
		case s.submissions <- sub:
		case <-deadline.C:
			return s.busy(c)
		}

		select {
		case err := <-sub.reply:
			if err != nil {
				s.logger.Errorf("failed to persist configuration: %s", err)
				s.result(ResultFailed)
				return c.Status(fiber.StatusInternalServerError).JSON(Response{
					Status:  "error",
					Message: msgSaveFailed,
				})
			}
		case <-deadline.C:
			return s.busy(c)
		}

		s.logger.Infof("received configuration for network `%s` (device name `%s`)", rec.NetworkName, rec.FriendlyName)
		s.result(ResultSaved)
		return c.JSON(Response{
			Status:   "success",
			Message:  msgSaved,
			DeviceID: s.deviceID,
		})
	}
}

func (s *Server) busy(c *fiber.Ctx) error {
	s.logger.Warn("main loop did not accept the configuration submission in time")
	s.result(ResultTimeout)
	return c.Status(fiber.StatusServiceUnavailable).JSON(Response{
		Status:  "error",
		Message: msgBusy,
	})
}

func (s *Server) result(r string) {
	if s.onResult != nil {
		s.onResult(r)
	}
}

// formValue returns a form field and whether it was present at all (empty
// values count as present)
func formValue(c *fiber.Ctx, key string) (string, bool) {
	if args := c.Request().PostArgs(); args.Has(key) {
		return string(args.Peek(key)), true
	}
	if form, err := c.MultipartForm(); err == nil {
		if v, ok := form.Value[key]; ok && len(v) > 0 {
			return v[0], true
		}
	}

	return "", false
}
