package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/platform/qdrant"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

const qaSystemPrompt = `你是一个知识库助手，专门基于用户收藏的 B站视频内容来回答问题。

请遵循以下规则：
1. 根据提供的视频内容来回答问题
2. 回答要自然、友好、有条理
3. 可以引用相关的视频标题作为来源
4. 如果多个视频涉及相同话题，请综合它们的内容

视频内容：
%s`

const fallbackSystemPrompt = `你是一个友好的助手。用户在使用一个B站收藏夹知识库系统。

当前情况：知识库中没有找到与用户问题相关的内容。

请：
1. 友好地回应用户的问题
2. 如果能根据常识简单回答，可以简要回答
3. 建议用户构建更多收藏夹内容，或者换个问法
4. 保持自然、不要死板`

// ChatSource points back at a video the answer drew from.
type ChatSource struct {
	Bvid  string `json:"bvid"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ChatAnswer is the assistant's reply plus the videos behind it. Sources is
// empty when the answer came from the fallback path.
type ChatAnswer struct {
	Answer  string       `json:"answer"`
	Sources []ChatSource `json:"sources"`
}

// ChatService answers questions against one folder's indexed content.
type ChatService interface {
	Ask(ctx context.Context, mediaID int64, question string, topK int) (*ChatAnswer, error)
}

type chatService struct {
	log         *logger.Logger
	ai          AIClient
	store       qdrant.VectorStore
	defaultTopK int
}

func NewChatService(log *logger.Logger, ai AIClient, store qdrant.VectorStore) (ChatService, error) {
	defaultTopK := utils.GetEnvAsInt("CHAT_TOP_K", 5, log)
	return &chatService{
		log:         log.With("service", "ChatService"),
		ai:          ai,
		store:       store,
		defaultTopK: defaultTopK,
	}, nil
}

func (s *chatService) Ask(ctx context.Context, mediaID int64, question string, topK int) (*ChatAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}
	ns := folderNamespace(mediaID)

	embeddings, err := s.ai.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("embed question: want=1 got=%d vectors", len(embeddings))
	}

	matches, err := s.store.QueryMatches(ctx, ns, embeddings[0], topK, nil)
	if err != nil {
		s.log.Warn("Vector search failed, falling back", "media_id", mediaID, "error", err.Error())
		return s.fallbackAnswer(ctx, question)
	}
	if len(matches) == 0 {
		s.log.Info("No matches for question", "media_id", mediaID)
		return s.fallbackAnswer(ctx, question)
	}

	var contextParts []string
	var sources []ChatSource
	seen := make(map[string]struct{})
	for _, match := range matches {
		bvid, _ := match.Payload["bvid"].(string)
		title, _ := match.Payload["title"].(string)
		text, _ := match.Payload["text"].(string)
		if title == "" {
			title = "未知标题"
		}
		if text = strings.TrimSpace(text); text != "" {
			contextParts = append(contextParts, fmt.Sprintf("【%s】\n%s", title, text))
		}
		if bvid != "" {
			if _, ok := seen[bvid]; !ok {
				seen[bvid] = struct{}{}
				sources = append(sources, ChatSource{
					Bvid:  bvid,
					Title: title,
					URL:   "https://www.bilibili.com/video/" + bvid,
				})
			}
		}
	}
	if len(contextParts) == 0 {
		return &ChatAnswer{
			Answer:  "检索到了相关视频，但没有找到有效的文本内容。可能是视频还未完成内容提取。",
			Sources: sources,
		}, nil
	}

	system := fmt.Sprintf(qaSystemPrompt, strings.Join(contextParts, "\n\n---\n\n"))
	answer, err := s.ai.ChatComplete(ctx, system, question)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	s.log.Info("Question answered", "media_id", mediaID, "matches", len(matches), "sources", len(sources))
	return &ChatAnswer{Answer: answer, Sources: sources}, nil
}

func (s *chatService) fallbackAnswer(ctx context.Context, question string) (*ChatAnswer, error) {
	answer, err := s.ai.ChatComplete(ctx, fallbackSystemPrompt, question)
	if err != nil {
		return &ChatAnswer{
			Answer:  "抱歉，没有找到相关内容。您可以尝试构建更多收藏夹内容，或者换个问法试试。",
			Sources: []ChatSource{},
		}, nil
	}
	return &ChatAnswer{Answer: answer, Sources: []ChatSource{}}, nil
}
