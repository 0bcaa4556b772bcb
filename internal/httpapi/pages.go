package httpapi

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

const successPageHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Payment received</title></head>
<body>
<h1>Thank you!</h1>
<p>Your payment was received and your reservation is confirmed.</p>
{{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">View your receipt</a></p>{{end}}
<p><a href="{{.SiteURL}}">Back to the booking site</a></p>
</body>
</html>
`

const cancelPageHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Checkout cancelled</title></head>
<body>
<h1>Checkout cancelled</h1>
<p>No charge was made. Your reservation is still pending payment.</p>
<p><a href="{{.SiteURL}}">Back to the booking site</a></p>
</body>
</html>
`

func newPageTemplates() *template.Template {
	pages := template.Must(template.New("success").Parse(successPageHTML))
	template.Must(pages.New("cancel").Parse(cancelPageHTML))
	return pages
}

func (handler *httpHandler) handleSuccessPage(ctx *gin.Context) {
	receiptURL := ""
	if token := ctx.Query("token"); token != "" {
		receiptURL = handler.cfg.PublicBaseURL + "/api/receipts?token=" + url.QueryEscape(token)
	}
	ctx.HTML(http.StatusOK, "success", gin.H{
		"ReceiptURL": receiptURL,
		"SiteURL":    handler.cfg.SiteBaseURL,
	})
}

func (handler *httpHandler) handleCancelPage(ctx *gin.Context) {
	ctx.HTML(http.StatusOK, "cancel", gin.H{
		"SiteURL": handler.cfg.SiteBaseURL,
	})
}
