package server

import (
	"github.com/gin-gonic/gin"
	"github.com/openmined/docsync/internal/docstore/remote"
)

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, remote.APIError{
		Code:    code,
		Message: err.Error(),
	})
}
