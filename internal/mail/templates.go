package mail

import (
	"fmt"
	"html"
	"time"
)

// The message bodies below are inline-styled HTML because that is what mail
// clients actually render. Names come from user input and are escaped.

const headerHTML = `
  <div style="background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); padding: 30px; border-radius: 10px; text-align: center; color: white;">
    <h1 style="margin: 0; font-size: 28px;">PathFit</h1>
    <p style="margin: 10px 0 0 0; font-size: 16px; opacity: 0.9;">Your Fitness Journey Starts Here</p>
  </div>`

const footerHTML = `
  <div style="text-align: center; margin-top: 30px; color: #999; font-size: 12px;">
    <p>&copy; PathFit. All rights reserved.</p>
  </div>`

func greeting(firstName string) string {
	if firstName == "" {
		return "Hi there,"
	}
	return fmt.Sprintf("Hello %s!", html.EscapeString(firstName))
}

// Verification builds the registration (and resend) code email.
func Verification(to, firstName, code string, ttl time.Duration) Message {
	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">%s
  <div style="background: #f8f9fa; padding: 30px; border-radius: 10px; margin-top: 20px;">
    <h2 style="color: #333; margin-top: 0;">Email Verification</h2>
    <p style="color: #666; font-size: 16px; line-height: 1.6;">
      %s Please use the verification code below to complete your PathFit registration.
    </p>
    <div style="background: white; border: 2px solid #667eea; border-radius: 8px; padding: 20px; text-align: center; margin: 20px 0;">
      <p style="color: #666; margin: 0 0 10px 0; font-size: 14px;">Your verification code:</p>
      <div style="font-size: 32px; font-weight: bold; color: #667eea; letter-spacing: 8px; font-family: 'Courier New', monospace;">%s</div>
    </div>
    <div style="background: #fff3cd; border: 1px solid #ffeaa7; border-radius: 5px; padding: 15px; margin: 20px 0;">
      <p style="color: #856404; margin: 0; font-size: 14px;">
        <strong>Important:</strong> This code will expire in %s for security purposes.
      </p>
    </div>
    <p style="color: #666; font-size: 14px; margin-top: 20px;">
      If you didn't request this verification, please ignore this email.
    </p>
  </div>%s
</div>`, headerHTML, greeting(firstName), html.EscapeString(code), ttlText(ttl), footerHTML)

	return Message{
		To:      to,
		Subject: "PathFit - Your Verification Code",
		HTML:    body,
	}
}

// Welcome builds the post-activation email.
func Welcome(to, firstName, uid, courseLine string) Message {
	body := fmt.Sprintf(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">%s
  <div style="background: #f8f9fa; padding: 30px; border-radius: 10px; margin-top: 20px;">
    <h2 style="color: #333; margin-top: 0;">%s</h2>
    <p style="color: #666; font-size: 16px; line-height: 1.6;">
      Your account has been successfully created and verified. You can now log in and start your fitness journey.
    </p>
    <div style="background: white; border: 1px solid #ddd; border-radius: 8px; padding: 20px; margin: 20px 0;">
      <h3 style="color: #667eea; margin-top: 0;">Account Details:</h3>
      <p style="margin: 5px 0; color: #666;"><strong>Email:</strong> %s</p>
      <p style="margin: 5px 0; color: #666;"><strong>User ID:</strong> %s</p>
      <p style="margin: 5px 0; color: #666;"><strong>Course:</strong> %s</p>
    </div>
  </div>%s
</div>`, headerHTML, greeting(firstName), html.EscapeString(to), html.EscapeString(uid), html.EscapeString(courseLine), footerHTML)

	return Message{
		To:      to,
		Subject: "Welcome to PathFit - Account Created Successfully!",
		HTML:    body,
	}
}

func ttlText(ttl time.Duration) string {
	if ttl >= time.Hour {
		hours := int(ttl.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", int(ttl.Minutes()))
}
