package email

import "fmt"

// ConfirmSubject is the subject of the confirmation-link message.
const ConfirmSubject = "Bind your email"

// LinkedSubject is the subject of the linking-complete message.
const LinkedSubject = "Congratulations on your successful binding!"

// ConfirmBody renders the message carrying the signed confirmation link.
func ConfirmBody(confirmURL string) string {
	return fmt.Sprintf(`
<p>Please click the link below to bind your email</p>
<a href="%[1]s" rel="bookmark">%[1]s</a>
<br />
If the link above cannot be opened, please copy this link to your browser.
<br />
%[1]s
`, confirmURL)
}

// LinkedBody renders the message sent once linking completed.
func LinkedBody(providerType, siteURL string) string {
	return fmt.Sprintf(`
<p>Congratulations, you have successfully bound your email address. You can use
%[1]s to directly log in to this website without a password.</p>
You are welcome to continue to follow this site, the address is
<a href="%[2]s" rel="bookmark">%[2]s</a>
Thank you again!
<br />
If the link above cannot be opened, please copy this link to your browser.
%[2]s
`, providerType, siteURL)
}
