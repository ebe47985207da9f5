// Package httpapi exposes the attendance service over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"
	"classattend/internal/devices"
	"classattend/internal/qrimage"
	"classattend/internal/report"
	"classattend/internal/roster"
	"classattend/internal/tally"
	"classattend/internal/users"
)

// QRHost publishes rendered QR images. *cloudinary.Client satisfies it.
type QRHost interface {
	UploadQR(ctx context.Context, classID string, png []byte) (*cloudinary.UploadResult, error)
}

// LiveCounts reads the running tally of a class. *tally.Tally satisfies it.
type LiveCounts interface {
	Get(ctx context.Context, classID string) (tally.Counts, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators a Handler needs. Cloud, Tally and Checks are
// optional.
type Deps struct {
	Attendance     *attendance.Service
	Users          *users.Service
	Devices        *devices.Service
	Roster         roster.Importer
	Cloud          QRHost
	Tally          LiveCounts
	Checks         map[string]HealthCheck
	QRImageSize    int
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	att       *attendance.Service
	users     *users.Service
	devices   *devices.Service
	roster    roster.Importer
	cloud     QRHost
	tally     LiveCounts
	checks    map[string]HealthCheck
	qrSize    int
	maxUpload int64
	log       zerolog.Logger
}

// New builds a Handler from deps.
func New(d Deps) *Handler {
	h := &Handler{
		att:       d.Attendance,
		users:     d.Users,
		devices:   d.Devices,
		roster:    d.Roster,
		cloud:     d.Cloud,
		tally:     d.Tally,
		checks:    d.Checks,
		qrSize:    d.QRImageSize,
		maxUpload: d.MaxUploadBytes,
		log:       d.Logger.With().Str("component", "http").Logger(),
	}
	if h.roster == nil {
		h.roster = roster.Auto{}
	}
	if h.qrSize <= 0 {
		h.qrSize = qrimage.DefaultSize
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 << 20
	}
	return h
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := gin.H{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.checks {
		if check(ctx) {
			status[name] = "ok"
			continue
		}
		status[name] = "down"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// ---------- Accounts ----------

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Matricula string `json:"matricula"`
}

type tokenResponse struct {
	User             users.User `json:"user"`
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
}

func newTokenResponse(u users.User, p auth.TokenPair) tokenResponse {
	return tokenResponse{
		User:             u,
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		ExpiresAt:        p.AccessExp,
		RefreshExpiresAt: p.RefreshExp,
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	u, tok, err := h.users.Register(c.Request.Context(), users.RegisterInput(req))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newTokenResponse(u, tok))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	u, tok, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(u, tok))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh trades a refresh token for a new pair. The presented token is
// revoked, so each one works once.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "refresh_token is required")
		return
	}
	u, tok, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(u, tok))
}

func (h *Handler) Me(c *gin.Context) {
	id, _ := auth.FromContext(c)
	u, err := h.users.Me(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ---------- Classes ----------

type classRequest struct {
	Name              string    `json:"name"`
	Subject           string    `json:"subject"`
	Location          string    `json:"location"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	QRDurationMinutes int       `json:"qr_duration_minutes"`
}

func (h *Handler) CreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	class, err := h.att.CreateClass(c.Request.Context(), teacherID(c), attendance.ClassInput(req))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, class)
}

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.att.ListClasses(c.Request.Context(), teacherID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (h *Handler) GetClass(c *gin.Context) {
	class, err := h.att.GetClass(c.Request.Context(), teacherID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

type durationRequest struct {
	Minutes int `json:"qr_duration_minutes"`
}

func (h *Handler) UpdateQRDuration(c *gin.Context) {
	var req durationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := h.att.UpdateQRDuration(c.Request.Context(), teacherID(c), c.Param("id"), req.Minutes); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qr_duration_minutes": req.Minutes})
}

type activeRequest struct {
	Active *bool `json:"is_active"`
}

func (h *Handler) SetActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		badRequest(c, "is_active is required")
		return
	}
	if err := h.att.SetActive(c.Request.Context(), teacherID(c), c.Param("id"), *req.Active); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_active": *req.Active})
}

type qrResponse struct {
	ClassID     string    `json:"class_id"`
	QRData      string    `json:"qr_data"`
	Image       string    `json:"image"`
	ImageURL    string    `json:"image_url,omitempty"`
	ActiveUntil time.Time `json:"active_until"`
}

// GenerateQR issues a fresh code and returns it rendered as a PNG data URL.
// When Cloudinary is configured the image is also hosted there; hosting
// failures do not invalidate the issued code.
func (h *Handler) GenerateQR(c *gin.Context) {
	ctx := c.Request.Context()
	issued, err := h.att.IssueQR(ctx, teacherID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	data, err := attendance.EncodePayload(issued.Payload())
	if err != nil {
		h.writeError(c, err)
		return
	}
	png, err := qrimage.PNG(data, h.qrSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := qrResponse{
		ClassID:     issued.ClassID,
		QRData:      data,
		Image:       qrimage.EncodeDataURL(png),
		ActiveUntil: issued.ActiveUntil,
	}
	if h.cloud != nil {
		res, err := h.cloud.UploadQR(ctx, issued.ClassID, png)
		if err != nil {
			h.log.Warn().Err(err).Str("class_id", issued.ClassID).Msg("qr upload failed")
		} else {
			resp.ImageURL = res.SecureURL
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ---------- Roster ----------

type studentRequest struct {
	Matricula string `json:"matricula"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func (h *Handler) AddStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	st, err := h.att.AddStudent(c.Request.Context(), teacherID(c), c.Param("id"), attendance.Student{
		Matricula: req.Matricula,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) RemoveStudent(c *gin.Context) {
	if err := h.att.RemoveStudent(c.Request.Context(), teacherID(c), c.Param("id"), c.Param("studentId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadStudents imports a roster from a multipart "file" field holding a
// PDF or plain-text list.
func (h *Handler) UploadStudents(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "failed to read file")
		return
	}
	entries, err := h.roster.Import(raw)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	students := make([]attendance.Student, 0, len(entries))
	for _, e := range entries {
		students = append(students, attendance.Student{Matricula: e.Matricula, FirstName: e.FirstName, LastName: e.LastName})
	}
	res, err := h.att.ImportRoster(c.Request.Context(), teacherID(c), c.Param("id"), students)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- Attendance (teacher) ----------

func (h *Handler) ListAttendances(c *gin.Context) {
	class, rows, err := h.att.ListAttendances(c.Request.Context(), teacherID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": class, "attendances": rows})
}

func (h *Handler) ExportAttendances(c *gin.Context) {
	class, rows, err := h.att.ListAttendances(c.Request.Context(), teacherID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	book, err := report.Workbook(rows)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(class.Name)+`"`)
	c.Data(http.StatusOK, report.ContentType, book)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateAttendance(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	rec, err := h.att.CorrectAttendance(c.Request.Context(), teacherID(c), c.Param("attendanceId"), attendance.Status(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type manualRequest struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
}

func (h *Handler) MarkManual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StudentID == "" {
		badRequest(c, "student_id and status are required")
		return
	}
	rec, err := h.att.MarkManual(c.Request.Context(), teacherID(c), c.Param("id"), req.StudentID, attendance.Status(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// LiveTally returns the worker-maintained counts for a class.
func (h *Handler) LiveTally(c *gin.Context) {
	ctx := c.Request.Context()
	class, err := h.att.GetClass(ctx, teacherID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.tally == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live tally disabled", "code": "tally_disabled"})
		return
	}
	counts, err := h.tally.Get(ctx, class.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class_id": class.ID, "counts": counts})
}

// ---------- Student ----------

type scanRequest struct {
	QRData   string `json:"qrData"`
	Location string `json:"location"`
	ClassID  string `json:"classId"`
}

func (h *Handler) ScanQR(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.QRData == "" {
		badRequest(c, "qrData is required")
		return
	}
	id, _ := auth.FromContext(c)
	out, err := h.att.RegisterScan(c.Request.Context(), attendance.ScanRequest{
		StudentID: id.StudentID,
		ClassID:   req.ClassID,
		Payload:   req.QRData,
		Location:  req.Location,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// ---------- Student ----------

// StudentProfile returns the roster record of the caller, matricula included.
func (h *Handler) StudentProfile(c *gin.Context) {
	id, _ := auth.FromContext(c)
	st, err := h.att.StudentProfile(c.Request.Context(), id.StudentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

type deviceSessionRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

func (h *Handler) StartDeviceSession(c *gin.Context) {
	var req deviceSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "deviceId is required")
		return
	}
	id, _ := auth.FromContext(c)
	sess, err := h.devices.Start(c.Request.Context(), id.StudentID, req.DeviceID, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (h *Handler) EndDeviceSession(c *gin.Context) {
	id, _ := auth.FromContext(c)
	n, err := h.devices.End(c.Request.Context(), id.StudentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": n})
}

func (h *Handler) ActiveClasses(c *gin.Context) {
	id, _ := auth.FromContext(c)
	classes, err := h.att.ActiveClasses(c.Request.Context(), id.StudentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func teacherID(c *gin.Context) string {
	id, _ := auth.FromContext(c)
	return id.TeacherID
}
