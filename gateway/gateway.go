/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/provideplatform/ussd/account"
	"github.com/provideplatform/ussd/cache"
	"github.com/provideplatform/ussd/common"
	"github.com/provideplatform/ussd/poller"
	"github.com/provideplatform/ussd/processor"
	"github.com/provideplatform/ussd/store"
	"github.com/provideplatform/ussd/tasks"

	provide "github.com/provideplatform/provide-go/common"
)

const bearerPrefix = "bearer "

// ussdParams is a USSD request as posted in JSON; both naming conventions in
// use by providers are accepted
type ussdParams struct {
	ServiceCode  string `json:"service_code"`
	USSDCode     string `json:"ussd_code"`
	PhoneNumber  string `json:"phone_number"`
	MSISDN       string `json:"msisdn"`
	SessionID    string `json:"session_id"`
	Text         string `json:"text"`
	USSDResponse string `json:"ussd_response"`
}

func (p *ussdParams) request() *processor.Request {
	return &processor.Request{
		SessionID:   p.SessionID,
		ServiceCode: firstNonEmpty(p.ServiceCode, p.USSDCode),
		PhoneNumber: firstNonEmpty(p.PhoneNumber, p.MSISDN),
		Text:        firstNonEmpty(p.Text, p.USSDResponse),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, val := range vals {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// Gateway serves the USSD endpoint and its operational routes
type Gateway struct {
	config    *common.Config
	cache     cache.Cache
	db        *gorm.DB
	processor *processor.Processor
	sessions  *store.Store
	notifier  *tasks.Notifier
	limiter   *SubscriberLimiter
	metrics   *Metrics
}

// New initializes a gateway
func New(cfg *common.Config, c cache.Cache, db *gorm.DB, p *processor.Processor, sessions *store.Store, notifier *tasks.Notifier, metrics *Metrics) *Gateway {
	return &Gateway{
		config:    cfg,
		cache:     c,
		db:        db,
		processor: p,
		sessions:  sessions,
		notifier:  notifier,
		limiter:   NewSubscriberLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics:   metrics,
	}
}

// InstallAPI registers the gateway handlers with gin
func (g *Gateway) InstallAPI(r *gin.Engine) {
	r.POST("/", g.ussdHandler)
	r.GET("/health-check", g.healthCheckHandler)
	if g.metrics != nil {
		r.GET("/metrics", gin.WrapH(g.metrics.Handler()))
	}
	if g.config.AdminAPIToken != "" {
		admin := r.Group("/api/v1", g.requireAdmin)
		admin.POST("/accounts/:phone_number/pin/reset", g.resetPinHandler)
		if g.sessions != nil {
			store.InstallAPI(admin, g.sessions)
		}
	}
}

func parseRequest(c *gin.Context) (*processor.Request, error) {
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		params := &ussdParams{}
		if err := c.ShouldBindJSON(params); err != nil {
			return nil, err
		}
		return params.request(), nil
	}

	return &processor.Request{
		SessionID:   c.PostForm("sessionId"),
		ServiceCode: strings.TrimSpace(c.PostForm("serviceCode")),
		PhoneNumber: strings.TrimSpace(c.PostForm("phoneNumber")),
		Text:        strings.TrimSpace(c.PostForm("text")),
	}, nil
}

func (g *Gateway) ussdHandler(c *gin.Context) {
	started := time.Now()

	req, err := parseRequest(c)
	if err != nil {
		g.metrics.observe(http.StatusBadRequest, "", false, started)
		provide.RenderError(err.Error(), 400, c)
		return
	}
	if req.PhoneNumber == "" {
		g.metrics.observe(http.StatusBadRequest, "", false, started)
		provide.RenderError("phone number required", 400, c)
		return
	}

	if !g.limiter.Allow(req.PhoneNumber, started) {
		g.metrics.observe(http.StatusTooManyRequests, "", false, started)
		provide.RenderError("too many requests", 429, c)
		return
	}

	resp, err := g.processor.Handle(c.Request.Context(), req)
	if err != nil {
		status := statusFor(err)
		common.Log.Warningf("failed to process request of %s in session %s; %s", req.PhoneNumber, req.SessionID, err.Error())
		g.metrics.observe(status, "", false, started)
		if status == http.StatusBadRequest {
			provide.RenderError(err.Error(), status, c)
			return
		}
		g.render(c, status, &processor.Response{
			Text:   g.processor.SystemError(),
			MSISDN: req.PhoneNumber,
			JSON:   g.config.UsesJSONEnvelope(req.ServiceCode),
		})
		return
	}

	g.metrics.observe(http.StatusOK, resp.State, resp.Replayed, started)
	g.render(c, http.StatusOK, resp)
}

func (g *Gateway) render(c *gin.Context, status int, resp *processor.Response) {
	if resp.JSON {
		provide.Render(resp.Envelope(), status, c)
		return
	}
	c.String(status, resp.Text)
}

// statusFor maps processing errors to transport status codes; malformed
// menus and infrastructure failures are internal errors
func statusFor(err error) int {
	var timeout *poller.MaxRetryReachedError
	switch {
	case errors.Is(err, processor.ErrInvalidPhoneNumber):
		return http.StatusBadRequest
	case errors.As(err, &timeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (g *Gateway) healthCheckHandler(c *gin.Context) {
	if err := g.db.DB().Ping(); err != nil {
		common.Log.Warningf("health check failed; %s", err.Error())
		provide.RenderError("database unavailable", 503, c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) authorizedAdmin(c *gin.Context) bool {
	header := c.GetHeader("Authorization")
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.config.AdminAPIToken)) == 1
}

func (g *Gateway) requireAdmin(c *gin.Context) {
	if !g.authorizedAdmin(c) {
		provide.RenderError("unauthorized", 401, c)
		c.Abort()
		return
	}
	c.Next()
}

// resetPinHandler resets the pin of an account out of band; the subscriber
// sets a new pin on their next call
func (g *Gateway) resetPinHandler(c *gin.Context) {
	phone, err := account.NormalizePhoneNumber(c.Param("phone_number"), g.config.Region)
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return
	}

	acct, err := account.FindByPhoneNumber(g.db, phone)
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}
	if acct == nil {
		provide.RenderError("account not found", 404, c)
		return
	}

	if err := acct.ResetPin(g.db); err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}

	if g.notifier != nil {
		lang := acct.PreferredLanguage(g.cache, g.config.LocaleFallback)
		if err := g.notifier.NotifyPinResetInitiated(acct.PhoneNumber, lang, g.config.OfficeSenderTag); err != nil {
			common.Log.Warningf("failed to notify %s of pin reset; %s", acct.PhoneNumber, err.Error())
		}
	}

	common.Log.Debugf("reset pin of account %s", acct.ID)
	provide.Render(acct, 200, c)
}
