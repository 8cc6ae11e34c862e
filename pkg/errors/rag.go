package errors

import "google.golang.org/grpc/codes"

// RAG 引擎服务代码: 20 (业务服务范围 20-79)
// 错误码格式: AABBCCC
// - AA: 20 (RAG 引擎)
// - BB: 类别代码
// - CCC: 序号

func init() {
	RegisterService(ServiceEngine, "ragcore-engine")
}

var (
	// 请求参数错误 (类别 01)
	ErrValidation = NewRequestError(ServiceEngine, 1).
			Message("Document validation failed", "文档校验失败").
			MustBuild()
	ErrTenantRequired = NewRequestError(ServiceEngine, 2).
				Message("Tenant id is required", "租户 ID 必填").
				MustBuild()
	ErrInvalidStrategy = NewRequestError(ServiceEngine, 3).
				Message("Unknown strategy", "未知策略").
				MustBuild()

	// 资源错误 (类别 04)
	ErrDocumentNotFound = NewNotFoundError(ServiceEngine, 1).
				Message("Document not found", "文档不存在").
				MustBuild()
	ErrVersionNotFound = NewNotFoundError(ServiceEngine, 2).
				Message("Document version not found", "文档版本不存在").
				MustBuild()

	// 流水线内部错误 (类别 07)
	ErrChunking = NewBuilder(ServiceEngine, CategoryInternal, 1).
			Message("Document chunking failed", "文档分块失败").
			MustBuild()
	ErrRetrieval = NewBuilder(ServiceEngine, CategoryInternal, 2).
			Message("Retrieval failed", "检索失败").
			MustBuild()
	ErrDocumentProcessing = NewBuilder(ServiceEngine, CategoryInternal, 3).
				Message("Document processing failed", "文档处理失败").
				MustBuild()
	ErrReranking = NewBuilder(ServiceEngine, CategoryInternal, 4).
			Message("Reranking failed", "重排序失败").
			MustBuild()

	// 外部网关错误 (类别 10)
	ErrEmbedding = NewBuilder(ServiceEngine, CategoryNetwork, 1).
			HTTP(502).
			GRPC(codes.Unavailable).
			Message("Embedding service failed", "向量化服务失败").
			MustBuild()
	ErrGeneration = NewBuilder(ServiceEngine, CategoryNetwork, 2).
			HTTP(502).
			GRPC(codes.Unavailable).
			Message("Generation service failed", "生成服务失败").
			MustBuild()

	// 超时错误 (类别 11)
	ErrQueryTimeout = NewBuilder(ServiceEngine, CategoryTimeout, 1).
			HTTP(408).
			GRPC(codes.DeadlineExceeded).
			Message("Query timeout", "查询超时").
			MustBuild()
)
