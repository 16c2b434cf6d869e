package handler

import (
	"net/http"
	"reflect"
	"strconv"

	"cajapos/internal/apierror"
	"cajapos/internal/apperror"
	"cajapos/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails;
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("JSON invalido: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		for _, fe := range err.(validator.ValidationErrors) {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// respondError renders a service error. Internal errors are logged with the
// request id and reach the client as a generic message.
func respondError(c *gin.Context, err error) {
	status, body := apierror.FromError(err)
	logger := zerolog.Ctx(c.Request.Context())
	if apperror.CodeOf(err) == apperror.CodeInternal {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("error interno")
	} else {
		logger.Debug().Err(err).Str("code", body.Code).Msg("solicitud rechazada")
	}
	c.JSON(status, body)
}

// operador returns the authenticated operator id from the JWT claims.
func operador(c *gin.Context) (*middleware.JWTClaims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, apierror.New("Autenticacion requerida"))
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apierror.New("ID de usuario invalido en el token"))
		return nil, uuid.Nil, false
	}
	return claims, id, true
}

// autorizarPDV rejects a cajero acting on a till other than the one bound
// to their token.
func autorizarPDV(c *gin.Context, claims *middleware.JWTClaims, puntoDeVenta int) bool {
	if claims.PuedeOperar(puntoDeVenta) {
		return true
	}
	c.JSON(http.StatusForbidden, apierror.New("El usuario no opera este punto de venta"))
	return false
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("ID invalido"))
		return uuid.Nil, false
	}
	return id, true
}

// puntoDeVentaQuery reads ?punto_de_venta=, falling back to the till bound
// to the token.
func puntoDeVentaQuery(c *gin.Context, claims *middleware.JWTClaims) (int, bool) {
	raw := c.Query("punto_de_venta")
	if raw == "" {
		if claims.PuntoDeVenta != nil {
			return *claims.PuntoDeVenta, true
		}
		c.JSON(http.StatusBadRequest, apierror.New("punto_de_venta es obligatorio"))
		return 0, false
	}
	pdv, err := strconv.Atoi(raw)
	if err != nil || pdv < 1 {
		c.JSON(http.StatusBadRequest, apierror.New("punto_de_venta invalido"))
		return 0, false
	}
	return pdv, true
}
