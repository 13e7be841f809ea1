package authorization

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type adminRequestPayload struct {
	Message string `json:"message"`
}

// adminRequestMailer notifies an operator address when someone requests
// admin access. Entirely optional; nil when SMTP is not configured.
type adminRequestMailer struct {
	host      string
	port      int
	username  string
	password  string
	from      string
	recipient string
}

func newAdminRequestMailerFromEnv() *adminRequestMailer {
	recipient := sanitizeMailHeader(os.Getenv("ADMIN_REQUEST_RECIPIENT_EMAIL"))
	host := strings.TrimSpace(os.Getenv("ADMIN_REQUEST_SMTP_HOST"))
	username := strings.TrimSpace(os.Getenv("ADMIN_REQUEST_SMTP_USERNAME"))
	password := os.Getenv("ADMIN_REQUEST_SMTP_PASSWORD")
	if recipient == "" || host == "" || username == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	port := 587
	if raw := strings.TrimSpace(os.Getenv("ADMIN_REQUEST_SMTP_PORT")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			port = parsed
		}
	}

	from := sanitizeMailHeader(os.Getenv("ADMIN_REQUEST_MAIL_FROM"))
	if from == "" {
		from = username
	}

	return &adminRequestMailer{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		from:      from,
		recipient: recipient,
	}
}

func (m *adminRequestMailer) Send(user *User, payload *adminRequestPayload) error {
	if m == nil {
		return errors.New("authorization: admin request mailer not configured")
	}
	if user == nil {
		return errors.New("authorization: user information is required")
	}

	now := time.Now().UTC()

	var body strings.Builder
	body.WriteString("A new administrator access request has been submitted.\r\n\r\n")
	fmt.Fprintf(&body, "User ID: %d\r\n", user.ID)
	fmt.Fprintf(&body, "Username: %s\r\n", sanitizeMailHeader(user.Username))
	if user.DisplayName != "" {
		fmt.Fprintf(&body, "Display Name: %s\r\n", sanitizeMailHeader(user.DisplayName))
	}
	fmt.Fprintf(&body, "Requested At (UTC): %s\r\n", now.Format(time.RFC3339))
	if payload != nil && strings.TrimSpace(payload.Message) != "" {
		body.WriteString("\r\nAdditional Message:\r\n")
		body.WriteString(strings.TrimSpace(payload.Message))
		body.WriteString("\r\n")
	}

	headers := []string{
		fmt.Sprintf("From: %s", m.from),
		fmt.Sprintf("To: %s", m.recipient),
		"Subject: Admin Access Request",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		fmt.Sprintf("Date: %s", now.Format(time.RFC1123Z)),
	}

	var message strings.Builder
	for _, header := range headers {
		message.WriteString(header)
		message.WriteString("\r\n")
	}
	message.WriteString("\r\n")
	message.WriteString(body.String())

	address := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	return smtp.SendMail(address, auth, m.from, []string{m.recipient}, []byte(message.String()))
}

// sanitizeMailHeader strips CR/LF to block header injection.
func sanitizeMailHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, "\r", " ")
	trimmed = strings.ReplaceAll(trimmed, "\n", " ")
	return trimmed
}

// handleAdminRequest grants the admin role to the caller and notifies the
// operator when a mailer is configured.
func (m *Module) handleAdminRequest(c *gin.Context) {
	if m == nil || m.userStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin request service unavailable"})
		return
	}

	var payload adminRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	userID := extractUserID(jwt.ExtractClaims(c))
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx := c.Request.Context()
	user, err := m.userStore.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		}
		return
	}

	assigned, err := m.userStore.GrantRoleByCode(ctx, userID, "admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to grant admin role"})
		return
	}

	roles, err := m.userStore.FindRoleNames(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load roles"})
		return
	}

	message := "admin role already assigned"
	if assigned {
		message = "admin role granted"
	}
	response := gin.H{
		"message":  message,
		"assigned": assigned,
		"user":     buildUserPayload(user, roles),
	}

	if m.mailer != nil {
		if err := m.mailer.Send(user, &payload); err != nil {
			log.Printf("authorization: failed to send admin request email: %v", err)
			response["warning"] = "failed to notify administrator"
		}
	}

	c.JSON(http.StatusOK, response)
}
