package notification

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"os"
	"sort"
	"time"
)

// BuildMIMEMessage encodes e as a multipart/mixed message: a quoted-printable
// text part followed by one base64 part per attachment.
func BuildMIMEMessage(e *Email) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(e.TextBody)); err != nil {
		return nil, fmt.Errorf("failed to write text part: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write text part: %w", err)
	}

	for _, a := range e.Attachments {
		if err := writeAttachmentPart(mw, a); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", a.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	writeEmailHeaders(&msg, e, mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func writeEmailHeaders(buf *bytes.Buffer, e *Email, boundary string) {
	headers := make(textproto.MIMEHeader)

	if e.FromName != "" {
		headers.Set("From", (&mail.Address{Name: e.FromName, Address: e.From}).String())
	} else {
		headers.Set("From", e.From)
	}
	headers.Set("To", e.To)
	headers.Set("Subject", mime.QEncoding.Encode("utf-8", e.Subject))
	headers.Set("Date", time.Now().Format(time.RFC1123Z))
	headers.Set("MIME-Version", "1.0")
	headers.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%s", boundary))
	if e.MessageID != "" {
		headers.Set("Message-ID", fmt.Sprintf("<%s>", e.MessageID))
	}
	if e.SystemName != "" {
		headers.Set("X-Motioncam-System", e.SystemName)
	}
	headers.Set("Auto-Submitted", "auto-generated")
	headers.Set("X-Auto-Response-Suppress", "All")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
}

func writeAttachmentPart(mw *multipart.Writer, a Attachment) error {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return err
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", fmt.Sprintf("%s; name=%q", contentType, a.Name))
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	// RFC 2045 caps encoded lines at 76 characters.
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = fmt.Fprintf(part, "%s\r\n", encoded)
	return err
}
