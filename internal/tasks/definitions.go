package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	// Register general tasks
	RegisterHandler(LogInfoTask.TaskID(), LogInfoTask.HandleExecution)

	// Register cache maintenance tasks
	RegisterHandler(CleanupCacheTask.TaskID(), CleanupCacheTask.HandleExecution)

	// Register subscription tasks
	RegisterHandler(GenerateInvoicesTask.TaskID(), GenerateInvoicesTask.HandleExecution)
}
