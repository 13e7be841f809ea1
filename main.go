package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"guardnova_back/assistant"
	"guardnova_back/authorization"
	"guardnova_back/cache"
	"guardnova_back/conversations"
	"guardnova_back/database"
	"guardnova_back/knowledge"
	"guardnova_back/mirror"
	"guardnova_back/storage"
)

func main() {
	_ = godotenv.Load()

	db, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	mirrorClient, err := mirror.NewClient(mirror.ConfigFromEnv())
	if err != nil {
		log.Fatalf("configure mirror: %v", err)
	}
	if !mirrorClient.Enabled() {
		log.Printf("mirror replication disabled: MIRROR_URL / MIRROR_API_KEY not set")
	}

	redisClient, err := cache.Connect(cache.ConfigFromEnv())
	if err != nil {
		log.Printf("redis unavailable, query cache disabled: %v", err)
		redisClient = nil
	}

	documents, err := storage.NewDocumentStoreFromEnv()
	if err != nil {
		log.Fatalf("configure document storage: %v", err)
	}
	if documents == nil {
		log.Printf("document retention disabled: MINIO_* not set")
	}

	r := gin.Default()
	r.Use(cors.Default())

	auth, err := authorization.RegisterRoutes(r, db, authorization.ConfigFromEnv())
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}

	knowledgeService, err := knowledge.NewService(db, mirrorClient, redisClient, knowledge.ConfigFromEnv())
	if err != nil {
		log.Fatalf("initialise knowledge service: %v", err)
	}
	knowledge.RegisterRoutes(r, knowledgeService, documents, auth.Guard().RequireAdmin())

	threadStore, err := conversations.NewStore(db, mirrorClient)
	if err != nil {
		log.Fatalf("initialise conversation store: %v", err)
	}
	conversations.RegisterRoutes(r, threadStore)

	chatClient, err := assistant.NewChatClient(assistant.ChatConfigFromEnv())
	if err != nil {
		log.Fatalf("configure chat client: %v", err)
	}
	if chatClient == nil {
		log.Printf("assistant disabled: LLM_API_KEY not set")
	}
	assistant.RegisterRoutes(r, assistant.NewService(chatClient, knowledgeService, threadStore))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
