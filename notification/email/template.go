package email

import (
	"html/template"
	"strings"
)

type mailContext struct {
	Title     string
	LogoLink  string
	Link      string
	LinkText  string
	Footer    string
	PrefsLink string
}

var mailTemplate = template.Must(template.New("mail").Parse(`<!doctype html>
<html lang="en">
    <head>
        <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
        <meta name="viewport" content="width=device-width, initial-scale=1.0">
        <title>{{.Title}}</title>
    </head>
    <body style="margin:0; padding:0; background:#ffffff;">
        <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%">
            <tr>
                <td align="center">
                    <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="650" style="width:650px; max-width:650px;">
                        <tr>
                            <td style="padding:18px 24px; background:#fefbf1;">
                                <img src="{{.LogoLink}}" alt="Bitcredit" width="120" height="24"
                                     style="display:block; border:0; outline:none; text-decoration:none; height:auto;">
                            </td>
                        </tr>
                    </table>
                    <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="650" style="width:650px; max-width:650px; background:#ffffff;">
                        <tr style="background: #fefbf1;">
                            <td style="padding:15px 24px 8px 24px; font-family:Geist, system-ui, sans-serif; color:#111111;">
                                <h1 style="margin:0; font-size:24px; line-height:36px; font-weight:500;">{{.Title}}</h1>
                            </td>
                        </tr>
                        <tr>
                            <td align="center" style="padding:60px 24px 30px 24px;">
                                <a href="{{.Link}}"
                                   style="background:#2b2118; color:#ffffff; text-decoration:none; display:inline-block;
                                          font-family:Geist, system-ui, sans-serif; font-size:14px; font-weight: 500;
                                          padding:12px 24px; border-radius:.5rem;">{{.LinkText}}</a>
                            </td>
                        </tr>
                        <tr>
                            <td align="center" style="padding:0px 24px 28px 24px; font-family:Geist, system-ui, sans-serif; font-size:13px; line-height:20px; color:#333333;">
                                {{.Footer}}{{if .PrefsLink}}<br /><br /><a href="{{.PrefsLink}}" style="color:#333333;">Manage email preferences</a>{{end}}
                            </td>
                        </tr>
                    </table>
                </td>
            </tr>
        </table>
    </body>
</html>
`))

func renderMail(ctx mailContext) (string, error) {
	var sb strings.Builder
	if err := mailTemplate.Execute(&sb, ctx); err != nil {
		return "", err
	}
	return sb.String(), nil
}
