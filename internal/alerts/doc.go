// Package alerts evaluates threshold rules against the pipeline's health and
// delivers firing and resolved notifications to Teams, Slack or generic HTTP
// webhooks.
//
// Rules are evaluated after every published output. A rule fires at most once
// per cooldown and resolves the first time its condition no longer holds.
package alerts
