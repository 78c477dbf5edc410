package email

import "github.com/ignite/notification-dispatch/internal/notification"

// template holds the Liquid sources for one notification kind. Batch
// kinds render from {events, count}; everything else binds the payload
// fields directly.
type template struct {
	subject string
	html    string
	text    string
}

var templates = map[notification.Type]template{
	notification.TypeAgentRun: {
		subject: `{{ agent_name }} finished a run`,
		html: page(`
<h2 style="margin-top:0;">Agent run complete</h2>
<p>Your agent <strong>{{ agent_name }}</strong> just finished a run.</p>
<table role="presentation" cellpadding="6" cellspacing="0" style="font-size:14px;color:#333333;">
<tr><td>Credits used</td><td><strong>{{ credits_used | credits }}</strong></td></tr>
<tr><td>Execution time</td><td><strong>{{ execution_time | duration }}</strong></td></tr>
<tr><td>Blocks executed</td><td><strong>{{ node_count }}</strong></td></tr>
</table>`),
		text: plain(`Your agent {{ agent_name }} just finished a run.

Credits used: {{ credits_used | credits }}
Execution time: {{ execution_time | duration }}
Blocks executed: {{ node_count }}`),
	},

	notification.TypeZeroBalance: {
		subject: `You're out of credits`,
		html: page(`
<h2 style="margin-top:0;">Your balance reached zero</h2>
<p>Your credit balance has run out, so your agents are paused until you top up.</p>
<p style="padding:16px 0;"><a href="{{ top_up_link }}" style="background-color:#4f46e5;color:#ffffff;padding:12px 24px;border-radius:6px;text-decoration:none;">Top up credits</a></p>
<p style="color:#666666;font-size:13px;">Last charge: {{ last_transaction | credits }} credits on {{ last_transaction_time | short_date }}.</p>`),
		text: plain(`Your credit balance has run out, so your agents are paused until you top up.

Top up: {{ top_up_link }}
Last charge: {{ last_transaction | credits }} credits on {{ last_transaction_time | short_date }}.`),
	},

	notification.TypeLowBalance: {
		subject: `Your credit balance is running low`,
		html: page(`
<h2 style="margin-top:0;">Credits running low</h2>
<p>You have <strong>{{ current_balance | dollars }}</strong> of credits left. Top up now to keep your agents running without interruption.</p>
<p style="padding:16px 0;"><a href="{{ billing_page_link }}" style="background-color:#4f46e5;color:#ffffff;padding:12px 24px;border-radius:6px;text-decoration:none;">Go to billing</a></p>`),
		text: plain(`You have {{ current_balance | dollars }} of credits left. Top up now to keep your agents running without interruption.

Billing: {{ billing_page_link }}`),
	},

	notification.TypeBlockExecutionFailed: {
		subject: `{{ count }} block failure{% if count != 1 %}s{% endif %} in your agents`,
		html: page(`
<h2 style="margin-top:0;">Block execution failures</h2>
<p>{{ count }} block{% if count != 1 %}s{% endif %} failed while your agents were running:</p>
<ul style="padding-left:20px;">
{% for e in events %}<li style="margin-bottom:8px;"><strong>{{ e.data.block_name }}</strong> ({{ e.created_at | short_date }})<br/><span style="color:#b91c1c;">{{ e.data.error_message }}</span></li>
{% endfor %}</ul>
<p>Open the affected agents in the builder to review and fix the failing blocks.</p>`),
		text: plain(`{{ count }} block(s) failed while your agents were running:

{% for e in events %}- {{ e.data.block_name }} ({{ e.created_at | short_date }}): {{ e.data.error_message }}
{% endfor %}
Open the affected agents in the builder to review and fix the failing blocks.`),
	},

	notification.TypeContinuousAgentError: {
		subject: `{{ count }} of your continuous agents stopped with errors`,
		html: page(`
<h2 style="margin-top:0;">Continuous agents need attention</h2>
<p>The following continuously running agent{% if count != 1 %}s{% endif %} stopped with errors:</p>
<ul style="padding-left:20px;">
{% for e in events %}<li style="margin-bottom:8px;"><strong>{{ e.data.agent_name }}</strong> after {{ e.data.attempts }} attempt{% if e.data.attempts != 1 %}s{% endif %}<br/><span style="color:#b91c1c;">{{ e.data.error_message }}</span></li>
{% endfor %}</ul>
<p>These agents will stay stopped until you restart them.</p>`),
		text: plain(`The following continuously running agent(s) stopped with errors:

{% for e in events %}- {{ e.data.agent_name }} after {{ e.data.attempts }} attempt(s): {{ e.data.error_message }}
{% endfor %}
These agents will stay stopped until you restart them.`),
	},

	notification.TypeDailySummary: {
		subject: `Your agent activity for {{ date | short_date }}`,
		html: page(`
<h2 style="margin-top:0;">Daily summary for {{ date | short_date }}</h2>
` + summarySection),
		text: plain(`Daily summary for {{ date | short_date }}

` + summaryText),
	},

	notification.TypeWeeklySummary: {
		subject: `Your weekly agent summary, {{ start_date | short_date }} to {{ end_date | short_date }}`,
		html: page(`
<h2 style="margin-top:0;">Weekly summary</h2>
<p style="color:#666666;">{{ start_date | short_date }} to {{ end_date | short_date }}</p>
` + summarySection),
		text: plain(`Weekly summary, {{ start_date | short_date }} to {{ end_date | short_date }}

` + summaryText),
	},

	// MONTHLY_SUMMARY has no bound queue and is refused at publish time,
	// but the catalog stays total so a future strategy change is a
	// config edit, not a template hunt.
	notification.TypeMonthlySummary: {
		subject: `Your monthly agent summary for {{ month }}/{{ year }}`,
		html: page(`
<h2 style="margin-top:0;">Monthly summary</h2>
<p>Your agent activity report for {{ month }}/{{ year }} is ready.</p>`),
		text: plain(`Your agent activity report for {{ month }}/{{ year }} is ready.`),
	},

	notification.TypeRefundRequest: {
		subject: `Refund request from {{ user_name }}`,
		html: page(`
<h2 style="margin-top:0;">Refund request</h2>
<table role="presentation" cellpadding="6" cellspacing="0" style="font-size:14px;color:#333333;">
<tr><td>User</td><td><strong>{{ user_name }}</strong> ({{ user_email }})</td></tr>
<tr><td>User ID</td><td>{{ user_id }}</td></tr>
<tr><td>Transaction</td><td>{{ transaction_id }}</td></tr>
<tr><td>Request ID</td><td>{{ refund_request_id }}</td></tr>
<tr><td>Amount</td><td><strong>{{ amount | currency }}</strong></td></tr>
<tr><td>Current balance</td><td>{{ balance | dollars }}</td></tr>
</table>
<p><strong>Reason:</strong> {{ reason }}</p>`),
		text: plain(`Refund request from {{ user_name }} ({{ user_email }})

User ID: {{ user_id }}
Transaction: {{ transaction_id }}
Request ID: {{ refund_request_id }}
Amount: {{ amount | currency }}
Current balance: {{ balance | dollars }}

Reason: {{ reason }}`),
	},

	notification.TypeAgentApproved: {
		subject: `{{ agent_name }} is live in the store`,
		html: page(`
<h2 style="margin-top:0;">Your agent was approved</h2>
<p><strong>{{ agent_name }}</strong> passed review and is now listed in the store.</p>
<p style="color:#666666;">Reviewer comments: {{ reviewer_comments | default: "none" }}</p>
<p style="padding:16px 0;"><a href="{{ store_url }}" style="background-color:#16a34a;color:#ffffff;padding:12px 24px;border-radius:6px;text-decoration:none;">View listing</a></p>`),
		text: plain(`{{ agent_name }} passed review and is now listed in the store.

Reviewer comments: {{ reviewer_comments | default: "none" }}
Listing: {{ store_url }}`),
	},

	notification.TypeAgentRejected: {
		subject: `{{ agent_name }} needs changes before it can be listed`,
		html: page(`
<h2 style="margin-top:0;">Your agent was not approved</h2>
<p><strong>{{ agent_name }}</strong> did not pass review this time.</p>
<p><strong>Reviewer comments:</strong> {{ reviewer_comments }}</p>
<p style="padding:16px 0;"><a href="{{ resubmit_url }}" style="background-color:#4f46e5;color:#ffffff;padding:12px 24px;border-radius:6px;text-decoration:none;">Update and resubmit</a></p>`),
		text: plain(`{{ agent_name }} did not pass review this time.

Reviewer comments: {{ reviewer_comments }}
Update and resubmit: {{ resubmit_url }}`),
	},
}

// summarySection is the stats block shared by the daily and weekly
// summary emails.
const summarySection = `<table role="presentation" cellpadding="6" cellspacing="0" style="font-size:14px;color:#333333;">
<tr><td>Total runs</td><td><strong>{{ total_executions | number_with_delimiter }}</strong></td></tr>
<tr><td>Successful</td><td><strong>{{ successful_runs | number_with_delimiter }}</strong></td></tr>
<tr><td>Failed</td><td><strong>{{ failed_runs | number_with_delimiter }}</strong></td></tr>
<tr><td>Credits used</td><td><strong>{{ total_credits_used | credits }}</strong></td></tr>
<tr><td>Total execution time</td><td><strong>{{ total_execution_time | duration }}</strong></td></tr>
<tr><td>Average execution time</td><td><strong>{{ average_execution_time | duration }}</strong></td></tr>
<tr><td>Most used agent</td><td><strong>{{ most_used_agent | default: "n/a" }}</strong></td></tr>
</table>
{% if cost_rows %}<h3 style="margin-bottom:8px;">Credits by agent</h3>
<table role="presentation" cellpadding="6" cellspacing="0" style="font-size:14px;color:#333333;">
{% for row in cost_rows %}<tr><td>{{ row.agent }}</td><td><strong>{{ row.credits | credits }}</strong></td></tr>
{% endfor %}</table>{% endif %}`

const summaryText = `Total runs: {{ total_executions | number_with_delimiter }}
Successful: {{ successful_runs | number_with_delimiter }}
Failed: {{ failed_runs | number_with_delimiter }}
Credits used: {{ total_credits_used | credits }}
Total execution time: {{ total_execution_time | duration }}
Average execution time: {{ average_execution_time | duration }}
Most used agent: {{ most_used_agent | default: "n/a" }}
{% if cost_rows %}
Credits by agent:
{% for row in cost_rows %}  {{ row.agent }}: {{ row.credits | credits }}
{% endfor %}{% endif %}`

// page wraps body markup in the shared email layout. The footer
// renders the unsubscribe line only when a link is bound.
func page(body string) string {
	return `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background-color:#f4f4f7;font-family:Helvetica,Arial,sans-serif;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0">
<tr><td align="center" style="padding:24px;">
<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;padding:32px;">
<tr><td style="color:#333333;font-size:15px;line-height:1.6;">` + body + `
</td></tr>
<tr><td style="padding-top:24px;color:#999999;font-size:12px;line-height:1.5;border-top:1px solid #eeeeee;">
<p>This is an automated notification about your agents and account activity.{% if unsubscribe_link %} <a href="{{ unsubscribe_link }}" style="color:#999999;">Unsubscribe</a>{% endif %}</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`
}

// plain appends the text footer to a plain-text body.
func plain(body string) string {
	return body + `
{% if unsubscribe_link %}
Unsubscribe: {{ unsubscribe_link }}{% endif %}
`
}
