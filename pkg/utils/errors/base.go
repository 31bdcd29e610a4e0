package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK represents a successful operation.
var OK = Register(New(0, http.StatusOK, codes.OK, "Success", "Sucesso"))

// Common errors shared by all components.
var (
	ErrBadRequest   = Register(New(MakeCode(ServiceCommon, CategoryRequest, 0), http.StatusBadRequest, codes.InvalidArgument, "Bad request", "Requisição inválida"))
	ErrInvalidParam = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid parameter", "Parâmetro inválido"))
	ErrMissingParam = Register(New(MakeCode(ServiceCommon, CategoryRequest, 2), http.StatusBadRequest, codes.InvalidArgument, "Missing required parameter", "Parâmetro obrigatório ausente"))

	ErrForbidden = Register(New(MakeCode(ServiceCommon, CategoryPermission, 0), http.StatusForbidden, codes.PermissionDenied, "Forbidden", "Acesso negado"))
	ErrNotFound  = Register(New(MakeCode(ServiceCommon, CategoryResource, 0), http.StatusNotFound, codes.NotFound, "Resource not found", "Recurso não encontrado"))
	ErrConflict  = Register(New(MakeCode(ServiceCommon, CategoryConflict, 0), http.StatusConflict, codes.AlreadyExists, "Resource conflict", "Conflito de recurso"))

	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 0), http.StatusInternalServerError, codes.Internal, "Internal server error", "Erro interno do servidor"))

	ErrServiceUnavailable = Register(New(MakeCode(ServiceCommon, CategoryNetwork, 0), http.StatusServiceUnavailable, codes.Unavailable, "Service unavailable", "Serviço indisponível"))
	ErrTimeout            = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 0), http.StatusGatewayTimeout, codes.DeadlineExceeded, "Request timeout", "Tempo de requisição esgotado"))
	ErrConfig             = Register(New(MakeCode(ServiceCommon, CategoryConfig, 0), http.StatusInternalServerError, codes.Internal, "Configuration error", "Erro de configuração"))
)

// Infrastructure errors.
var (
	ErrDatabase    = Register(New(MakeCode(ServiceInfraDB, CategoryDatabase, 0), http.StatusInternalServerError, codes.Internal, "Database error", "Erro de banco de dados"))
	ErrCache       = Register(New(MakeCode(ServiceInfraCache, CategoryCache, 0), http.StatusInternalServerError, codes.Internal, "Cache error", "Erro de cache"))
	ErrVectorIndex = Register(New(MakeCode(ServiceInfraVector, CategoryDatabase, 0), http.StatusInternalServerError, codes.Internal, "Vector index error", "Erro no índice vetorial"))
)
