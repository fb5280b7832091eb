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

package store

import (
	"strings"

	"github.com/gin-gonic/gin"
	provide "github.com/provideplatform/provide-go/common"
)

// InstallAPI registers the session inspection handlers with gin; callers
// mount them behind their own authorization
func InstallAPI(r gin.IRoutes, s *Store) {
	r.GET("/sessions/:id", s.sessionHandler)
	r.GET("/subscribers/:msisdn/sessions/latest", s.latestSessionHandler)
}

// sessionHandler returns the live session, or its durable snapshot once the live copy expired
func (s *Store) sessionHandler(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	sess, err := s.Resolve(id)
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}
	if sess == nil {
		sess, err = s.FindSnapshot(id)
		if err != nil {
			provide.RenderError(err.Error(), 500, c)
			return
		}
	}
	if sess == nil {
		provide.RenderError("session not found", 404, c)
		return
	}

	provide.Render(sess, 200, c)
}

func (s *Store) latestSessionHandler(c *gin.Context) {
	sess, err := s.LastForSubscriber(strings.TrimSpace(c.Param("msisdn")))
	if err != nil {
		provide.RenderError(err.Error(), 500, c)
		return
	}
	if sess == nil {
		provide.RenderError("session not found", 404, c)
		return
	}

	provide.Render(sess, 200, c)
}
