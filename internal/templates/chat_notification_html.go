package templates

import (
	"bytes"
	"html/template"
)

// ChatNotificationData fills the offline new-message e-mail.
type ChatNotificationData struct {
	RecipientName string
	SenderLabel   string
	BookingType   string
	Preview       string
	ChatLink      string
}

const chatNotificationHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8"/>
  <title>New message on Localease</title>
  <style>
    body {
      margin: 0;
      padding: 0;
      font-family: Arial, sans-serif;
      background-color: #f5f5f5;
      color: #333;
    }
    .email-container {
      width: 100%;
      max-width: 600px;
      margin: 0 auto;
      background-color: #ffffff;
      border-radius: 6px;
      overflow: hidden;
    }
    .header {
      background-color: #333;
      color: #ffffff;
      padding: 20px;
    }
    .content {
      padding: 20px;
    }
    .preview {
      border-left: 3px solid #333;
      padding: 8px 12px;
      color: #555;
      font-style: italic;
    }
    .cta-button {
      display: inline-block;
      padding: 12px 24px;
      background-color: #333;
      color: #ffffff;
      text-decoration: none;
      border-radius: 4px;
      font-weight: bold;
    }
    .footer {
      font-size: 12px;
      color: #999;
      text-align: center;
      padding: 10px 20px;
    }
  </style>
</head>
<body>
  <table class="email-container" role="presentation" cellspacing="0" cellpadding="0">
    <tr>
      <td>
        <div class="header">
          <h1>You have a new message</h1>
        </div>
        <div class="content">
          {{if .RecipientName}}
            <p>Hi {{.RecipientName}},</p>
          {{else}}
            <p>Hello,</p>
          {{end}}
          <p>{{.SenderLabel}} wrote in the chat for your {{.BookingType}} booking:</p>
          <p class="preview">{{.Preview}}</p>
          {{if .ChatLink}}
            <p><a class="cta-button" href="{{.ChatLink}}">Open chat</a></p>
          {{end}}
        </div>
        <div class="footer">
          <p>You are receiving this because you were offline when the message arrived.</p>
        </div>
      </td>
    </tr>
  </table>
</body>
</html>
`

var chatNotificationTmpl = template.Must(template.New("chat_notification").Parse(chatNotificationHTML))

func RenderChatNotificationHTML(data ChatNotificationData) (string, error) {
	var buf bytes.Buffer
	if err := chatNotificationTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
