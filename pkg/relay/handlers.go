package relay

import (
	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/servermethod"
)

// handleRefreshUserData handles POST /refreshUserData
func (s *Server) handleRefreshUserData(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		s.generalError(c, nil)
		return
	}
	req, err := servermethod.ParseRefreshUserData(body)
	if err != nil {
		s.generalError(c, err)
		return
	}

	valid, err := s.store.validSession(c.Request.Context(), req.Identity, req.Token)
	if err != nil {
		s.generalError(c, err)
		return
	}
	if !valid {
		s.status(c, servermethod.StatusInvalidSession)
		return
	}

	found, err := s.store.refresh(c.Request.Context(), req.Identity, req.Label)
	if err != nil {
		s.generalError(c, err)
		return
	}
	if !found {
		s.status(c, servermethod.StatusDeletedFromServer)
		return
	}
	s.status(c, servermethod.StatusOK)
}

// handlePutUserData handles POST /putUserData
func (s *Server) handlePutUserData(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		s.generalError(c, nil)
		return
	}
	req, err := servermethod.ParsePutUserData(body)
	if err != nil {
		s.generalError(c, err)
		return
	}

	valid, err := s.store.validSession(c.Request.Context(), req.Identity, req.Token)
	if err != nil {
		s.generalError(c, err)
		return
	}
	if !valid {
		s.status(c, servermethod.StatusInvalidSession)
		return
	}

	if err := s.store.put(c.Request.Context(), req.Identity, req.Label, req.Data); err != nil {
		s.generalError(c, err)
		return
	}
	s.logger.WithField("label", req.Label.Short()).Debug("Stored user data")
	s.status(c, servermethod.StatusOK)
}

// handleGetUserData handles POST /getUserData
func (s *Server) handleGetUserData(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		s.generalError(c, nil)
		return
	}
	req, err := servermethod.ParseGetUserData(body)
	if err != nil {
		s.generalError(c, err)
		return
	}

	data, found, err := s.store.get(c.Request.Context(), req.Identity, req.Label)
	if err != nil {
		s.generalError(c, err)
		return
	}
	if !found {
		s.status(c, servermethod.StatusDeletedFromServer)
		return
	}
	s.respond(c, servermethod.StatusOK, servermethod.EncodeResponse(servermethod.StatusOK, encoding.EncodeBytes(data)))
}

func (s *Server) status(c *gin.Context, status byte) {
	s.respond(c, status, servermethod.EncodeResponse(status))
}

func (s *Server) generalError(c *gin.Context, err error) {
	if err != nil {
		s.logger.WithError(err).WithField("path", c.FullPath()).Warn("Server method failed")
	}
	s.status(c, servermethod.StatusGeneralError)
}
