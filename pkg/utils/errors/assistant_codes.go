package errors

import "google.golang.org/grpc/codes"

// 助手服务错误码: 21
// 错误码格式: AABBCCC

var (
	// 请求参数错误 (类别 01)
	ErrValidation           = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 1), 400, codes.InvalidArgument, "Validation failed", "Falha de validação"))
	ErrEmptyMessage         = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 2), 400, codes.InvalidArgument, "Empty message", "Mensagem vazia"))
	ErrUnknownContentType   = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 3), 400, codes.InvalidArgument, "Unknown content type", "Tipo de conteúdo desconhecido"))
	ErrInvalidThreshold     = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 4), 400, codes.InvalidArgument, "Similarity threshold must be within [0,1]", "O limiar de similaridade deve estar entre 0 e 1"))
	ErrDimensionMismatch    = Register(New(MakeCode(ServiceAssistant, CategoryRequest, 5), 400, codes.InvalidArgument, "Embedding dimension mismatch", "Dimensão de embedding incompatível"))
	ErrAssistantDisabled    = Register(New(MakeCode(ServiceAssistant, CategoryPermission, 1), 403, codes.PermissionDenied, "Assistant is disabled for this tenant", "O assistente está desativado para esta empresa"))
	ErrConversationNotFound = Register(New(MakeCode(ServiceAssistant, CategoryResource, 1), 404, codes.NotFound, "Conversation not found", "Conversa não encontrada"))
	ErrDocumentNotFound     = Register(New(MakeCode(ServiceAssistant, CategoryResource, 2), 404, codes.NotFound, "Document not found", "Documento não encontrado"))
	ErrIngestionJobNotFound = Register(New(MakeCode(ServiceAssistant, CategoryResource, 3), 404, codes.NotFound, "Ingestion job not found", "Tarefa de ingestão não encontrada"))
	ErrConversationInactive = Register(New(MakeCode(ServiceAssistant, CategoryConflict, 1), 409, codes.FailedPrecondition, "Conversation is inactive", "A conversa está desativada"))

	// 处理错误 (类别 07)
	ErrPartialIngestion       = Register(New(MakeCode(ServiceAssistant, CategoryInternal, 1), 207, codes.Aborted, "Some documents failed to ingest", "Alguns documentos falharam na ingestão"))
	ErrIngestionFailed        = Register(New(MakeCode(ServiceAssistant, CategoryInternal, 2), 500, codes.Internal, "Document ingestion failed", "Falha na ingestão do documento"))
	ErrConversationTurnFailed = Register(New(MakeCode(ServiceAssistant, CategoryInternal, 3), 502, codes.Unavailable, "Conversation turn failed", "Falha ao processar a mensagem"))

	// 供应商错误 (类别 10 / 11)
	ErrProviderUnavailable = Register(New(MakeCode(ServiceThirdPartyLLM, CategoryNetwork, 1), 503, codes.Unavailable, "Model provider unavailable", "Provedor de modelo indisponível"))
	ErrProviderTimeout     = Register(New(MakeCode(ServiceThirdPartyLLM, CategoryTimeout, 1), 504, codes.DeadlineExceeded, "Model provider timeout", "Tempo esgotado no provedor de modelo"))
)
