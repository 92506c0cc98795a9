package notify

import "fmt"

// VerificationEmail renders the registration verification message.
func VerificationEmail(to, username, code string) *Message {
	return &Message{
		To:      to,
		Subject: "Email Verification Code",
		Text: fmt.Sprintf(`Email Verification

Hello %s,

Thank you for joining soma! Please use the following code to verify your email address:

%s

This code will expire in 10 minutes.

If you did not request this code, please ignore this email.
`, username, code),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Email Verification</h2>
  <p>Hello %s,</p>
  <p>Thank you for registering! Please use the following verification code to activate your account:</p>
  <div style="background-color: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="color: #333; letter-spacing: 5px;">%s</h1>
  </div>
  <p>This code will expire in 10 minutes.</p>
  <p>If you didn't request this verification, please ignore this email.</p>
  <hr style="margin: 30px 0;">
  <p style="color: #666; font-size: 12px;">This is an automated message, please do not reply.</p>
</div>`, username, code),
	}
}

// EmailChangeEmail renders the email-change confirmation message. It is
// sent to the NEW address so possession of that mailbox is what gets
// verified.
func EmailChangeEmail(to, username, code, newEmail string) *Message {
	return &Message{
		To:      to,
		Subject: "Email Change Verification Code",
		Text: fmt.Sprintf(`Email Change Verification

Hello %s,

A request was made to change your account email to %s. Please use the following code to confirm the change:

%s

This code will expire in 10 minutes.

If you did not request this change, please ignore this email.
`, username, newEmail, code),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Email Change Verification</h2>
  <p>Hello %s,</p>
  <p>A request was made to change your account email to <strong>%s</strong>. Please use the following code to confirm the change:</p>
  <div style="background-color: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="color: #333; letter-spacing: 5px;">%s</h1>
  </div>
  <p>This code will expire in 10 minutes.</p>
  <p>If you didn't request this change, please ignore this email.</p>
  <hr style="margin: 30px 0;">
  <p style="color: #666; font-size: 12px;">This is an automated message, please do not reply.</p>
</div>`, username, newEmail, code),
	}
}

// LoginCodeEmail renders the short login code sent during two-step login
// from a device the account has not seen before.
func LoginCodeEmail(to, username, code string) *Message {
	return &Message{
		To:      to,
		Subject: "Login Verification Code",
		Text: fmt.Sprintf(`Login Verification

Hello %s,

A login to your account was attempted from a new device. Please use the following code to continue:

%s

This code will expire in 5 minutes.

If this was not you, we recommend changing your password.
`, username, code),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Login Verification</h2>
  <p>Hello %s,</p>
  <p>A login to your account was attempted from a new device. Please use the following code to continue:</p>
  <div style="background-color: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="color: #333; letter-spacing: 5px;">%s</h1>
  </div>
  <p>This code will expire in 5 minutes.</p>
  <p>If this wasn't you, we recommend changing your password.</p>
  <hr style="margin: 30px 0;">
  <p style="color: #666; font-size: 12px;">This is an automated message, please do not reply.</p>
</div>`, username, code),
	}
}
