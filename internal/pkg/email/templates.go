package email

const (
	TemplateAthleteUnlocked = "athlete_unlocked"
	TemplateOperatorUnlock  = "operator_unlock"
)

// BaseTemplate is the base layout for all emails
const BaseTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; padding: 0; font-family: Arial, sans-serif; background-color: #f4f6f8; color: #1f2933; }
        .container { max-width: 600px; margin: 0 auto; padding: 32px 16px; }
        .card { background: #ffffff; border-radius: 10px; padding: 28px; border: 1px solid #e4e7eb; }
        h2 { font-size: 22px; margin: 0 0 16px; }
        p { font-size: 15px; line-height: 1.6; margin: 0 0 14px; }
        .highlight { color: #0b69a3; font-weight: 600; }
        .btn { display: inline-block; background: #0b69a3; color: #ffffff !important; text-decoration: none; padding: 12px 24px; border-radius: 6px; font-weight: 600; }
        .footer { text-align: center; margin-top: 24px; color: #7b8794; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="card">
            {{.Content}}
        </div>
        <div class="footer">
            <p>You received this email because you have a ScoutLink account.</p>
        </div>
    </div>
</body>
</html>
`

// AthleteUnlockedTemplate tells an athlete an operator can now see their contacts.
const AthleteUnlockedTemplate = `
<h2>Hi {{.AthleteName}},</h2>
<p><span class="highlight">{{.OperatorName}}</span> unlocked your contact details and may reach out to you.</p>
{{if .ExpiresAt}}<p>Access lasts until {{.ExpiresAt}}.</p>{{end}}
<p><a class="btn" href="{{.ProfileURL}}">View your profile</a></p>
`

// OperatorUnlockTemplate confirms an unlock to the paying operator.
const OperatorUnlockTemplate = `
<h2>Contact unlocked</h2>
<p>You now have access to <span class="highlight">{{.AthleteName}}</span>'s contact details.</p>
<p>Credits spent: <strong>{{.CreditsSpent}}</strong><br>Remaining balance: <strong>{{.Balance}}</strong></p>
{{if .ExpiresAt}}<p>Access expires on {{.ExpiresAt}}.</p>{{end}}
<p><a class="btn" href="{{.AthleteURL}}">Open athlete profile</a></p>
`
